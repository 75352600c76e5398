// File: internal/readiness/selectors.go
package readiness

// Selector lists are ordered by preference; probing stops at the first
// visible match. Entries beginning with "//" are XPath, used where matching
// on button text is the only reliable handle.

// DisclaimerSelectors locate the dismiss control of consent and legal
// overlays shown on first visit.
var DisclaimerSelectors = []string{
	".overlay-disclaimer button",
	".disclaimer button",
	".overlay button",
	"[data-dismiss='modal']",
	".modal button",
	".close-btn",
	"//button[normalize-space()='Close']",
	"//button[normalize-space()='Accept']",
	"//button[normalize-space()='Continue']",
	".btn-close",
	"[aria-label*='close' i]",
	".disclaimer-close",
	".popup-close",
}

// BlockingModalSelectors identify modal windows that block the chat widget,
// including the CAPTCHA modal the target raises on suspected automation.
var BlockingModalSelectors = []string{
	"#modalRecaptcha",
	".modal.show",
	".swal2-container",
	".modal-backdrop",
	"[role='dialog'][aria-modal='true']",
	".captcha-modal",
	".recaptcha-modal",
}

// ModalCloseSelectors locate close controls inside blocking modals.
var ModalCloseSelectors = []string{
	"#modalRecaptcha button",
	"#modalRecaptcha .btn-close",
	"#modalRecaptcha [aria-label*='close' i]",
	".swal2-close",
	".swal2-cancel",
	".modal .close",
	".modal .btn-close",
	".modal button[data-dismiss='modal']",
	"//div[contains(@class,'modal')]//button[normalize-space()='Close']",
	"//div[contains(@class,'modal')]//button[normalize-space()='Cancel']",
	"//div[contains(@class,'modal')]//button[normalize-space()='OK']",
}

// CaptchaSelectors detect an active human-verification challenge. Detection
// only; the controller never attempts to bypass a challenge.
var CaptchaSelectors = []struct {
	Selector    string
	Description string
}{
	{"iframe[src*='recaptcha']", "Active reCAPTCHA"},
	{".g-recaptcha", "Visible Google reCAPTCHA"},
	{"#modalRecaptcha", "CAPTCHA Modal"},
}

// BackdropSelector matches clickable overlay backdrops; clicking one is the
// last-resort dismissal after Escape.
const BackdropSelector = ".overlay, .modal-backdrop, .swal2-backdrop"

// LoadingMarkers are body-text fragments shown while backend services are
// still connecting.
var LoadingMarkers = []string{
	"Connecting to Services...",
	"Connecting to services...",
	"Loading...",
	"Please wait...",
	"Initializing...",
}
