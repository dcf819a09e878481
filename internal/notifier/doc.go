// Package notifier delivers reminder messages to their owner's chat.
//
// Delivery is synchronous: the caller learns the outcome and decides what to
// record. Sends share one token-bucket rate limit so a burst of simultaneous
// reminders stays under the platform's flood limits. RetryMax defaults to 0,
// one attempt per message.
package notifier
