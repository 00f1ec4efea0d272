// Package email delivers transactional mail for photovault.
//
// Two Sender implementations exist: Postmark for deployed environments and
// DevSender, which writes each message to disk as an .html file with a .json
// sidecar so dunning mail can be inspected locally. Render turns a templ
// component into the HTML body of a Message.
package email
