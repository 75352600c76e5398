// File: internal/chat/selectors.go
package chat

// Fallback selector tables for the chat surface. The widget markup varies
// between deployments and languages, so every element is located by probing
// an ordered list and keeping the first hit. Entries beginning with "//" are
// XPath and are resolved as such by the browser session.

// InputSelectors locate the message entry field. Contenteditable variants
// come first because the production widget renders one.
var InputSelectors = []string{
	"[contenteditable='true'][placeholder*='ask' i]",
	"[contenteditable='true'][placeholder*='question' i]",
	"[contenteditable='true']:not([aria-hidden='true'])",
	"textarea[placeholder*='ask' i]",
	"textarea[placeholder*='question' i]",
	"input[placeholder*='ask' i]",
	".chat-input textarea",
	".chat-input input",
	".message-input",
	"#chat-input",
	".input-message",
	"textarea",
	"input[type='text']",
}

// SendSelectors locate the send button.
var SendSelectors = []string{
	"button[aria-label*='send' i]",
	"button[title*='send' i]",
	"//button[normalize-space()='Send']",
	".send-button",
	".chat-send",
	"//button[.//svg[contains(@class, 'send')]]",
	"button:has(svg)",
	".btn-send",
	"[data-testid*='send']",
	"button[type='submit']",
}

// WidgetSelectors locate the chat widget container. Presence in the DOM is
// enough here; the container itself may be styled invisible.
var WidgetSelectors = []string{
	"#chat-widget",
	".chat-widget",
	"#chat-container",
	".chat-container",
	"iframe[title*='chat']",
	"[data-testid*='chat']",
	".chat-wrapper",
	".chatbot",
}

// MessageContainerSelectors locate the scrollable transcript element.
var MessageContainerSelectors = []string{
	".message-container",
	".chat-messages",
	".messages",
	"[role='log']",
}

// UserMessageSelectors match messages authored by the operator.
var UserMessageSelectors = []string{
	".user-message",
	".message.user",
	".user",
	"[data-message-type='user']",
}

// ResponseSelectors match assistant messages.
var ResponseSelectors = []string{
	".ai-message",
	".bot-message",
	".message.bot",
	".assistant",
	".bot",
	"[data-message-type='assistant']",
}

// LoadingSelectors match the typing indicator shown while a reply streams.
var LoadingSelectors = []string{
	".loading",
	".typing-indicator",
	".spinner",
	"[role='progressbar']",
}

// ErrorSelectors match inline error banners.
var ErrorSelectors = []string{
	".error-message",
	".alert-error",
	".error",
	"[role='alert']",
}
