// Package notifier delivers check-in results to operator channels.
//
// A Dispatcher reads the channel settings fresh from the configs table on
// every Fanout and sends to each enabled channel concurrently:
//
//   - webhook: generic HTTP endpoint (JSON, form, multipart or GET query)
//   - telegram: Bot API sendMessage through telebot
//   - dingtalk, wecom, feishu: chat-bot webhooks, optionally signed
//   - redis: PUBLISH of the JSON payload on a channel
//
// Delivery is best-effort. Each channel returns a Result that is logged and
// published on the event bus; failures never propagate to the caller.
package notifier
