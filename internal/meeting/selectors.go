// File: internal/meeting/selectors.go
package meeting

// Provider identifies the conferencing product whose web client is driven.
type Provider int

const (
	ProviderZoom Provider = iota
	ProviderMeet
)

func (p Provider) String() string {
	switch p {
	case ProviderZoom:
		return "zoom"
	case ProviderMeet:
		return "meet"
	default:
		return "unknown"
	}
}

// Surfaces collects the locator chains for every UI surface the session
// touches, for a single provider. Chain order encodes reliability: the
// specs the client renders most consistently come first.
type Surfaces struct {
	PermissionDismiss LocatorChain
	NameField         LocatorChain
	PasscodeField     LocatorChain
	JoinButton        LocatorChain
	JoinedMarkers     LocatorChain

	// MeetingFrame, when non-empty, names the iframe the client renders
	// the meeting into. Queries are scoped into it before chat work; when
	// no spec matches, the top document stays in scope.
	MeetingFrame LocatorChain

	// OverlayDismiss lists modal and overlay elements that intercept
	// clicks. Each visible one gets a dismissal click before the chat
	// toggle is touched.
	OverlayDismiss LocatorChain

	ChatToggle LocatorChain

	// ChatLabel, when non-empty, names a label element whose trimmed text
	// must equal ChatLabelText before the chat toggle is trusted. Guards
	// against broad fallback specs matching the wrong footer control.
	ChatLabel     Selector
	ChatLabelText string

	ChatInput    LocatorChain
	ChatMessages Selector
	LeaveButton  LocatorChain
	LeaveConfirm LocatorChain
}

// SurfacesFor returns the selector tables for the provider.
func SurfacesFor(p Provider) Surfaces {
	switch p {
	case ProviderMeet:
		return meetSurfaces()
	default:
		return zoomSurfaces()
	}
}

func zoomSurfaces() Surfaces {
	return Surfaces{
		PermissionDismiss: LocatorChain{
			{Name: "continue-without-av", Sel: CSS("div.continue-without-mic-camera")},
			{Name: "continue-without-av-xpath", Sel: XPath("//div[contains(@class,'continue-without-mic-camera')]")},
			{Name: "continue-button-text", Sel: XPath("//button[contains(text(),'Continue without')]")},
		},
		NameField: LocatorChain{
			{Name: "name-id", Sel: CSS("#input-for-name")},
			{Name: "name-attr", Sel: CSS("input[name='inputname']")},
			{Name: "name-placeholder-exact", Sel: XPath("//input[@placeholder='Enter your name']")},
			{Name: "name-placeholder-contains", Sel: XPath("//input[contains(@placeholder,'name')]")},
			{Name: "name-placeholder-css", Sel: CSS("input[placeholder*='name']")},
		},
		PasscodeField: LocatorChain{
			{Name: "pwd-id", Sel: CSS("#input-for-pwd")},
			{Name: "pwd-attr", Sel: CSS("input[name='inputpwd']")},
			{Name: "pwd-placeholder-exact", Sel: XPath("//input[@placeholder='Enter meeting passcode']")},
			{Name: "pwd-placeholder-contains", Sel: XPath("//input[contains(@placeholder,'passcode') or contains(@placeholder,'password')]")},
			{Name: "pwd-type", Sel: CSS("input[type='password']")},
		},
		JoinButton: LocatorChain{
			{Name: "preview-join", Sel: CSS("button.preview-join-button")},
			{Name: "join-text", Sel: XPath("//button[contains(text(),'Join')]")},
			{Name: "join-aria", Sel: XPath("//button[contains(@aria-label,'Join') or contains(@title,'Join')]")},
			{Name: "join-class", Sel: CSS("button[class*='join']")},
		},
		JoinedMarkers: LocatorChain{
			{Name: "leave-control", Sel: XPath("//button[contains(@aria-label,'Leave')]")},
			{Name: "chat-control", Sel: XPath("//button[contains(@aria-label,'hat')]")},
			{Name: "share-control", Sel: XPath("//button[contains(@aria-label,'Share')]")},
		},
		MeetingFrame: LocatorChain{
			{Name: "frame-id-meeting", Sel: XPath("//iframe[contains(@id,'meeting')]")},
			{Name: "frame-class-meeting", Sel: XPath("//iframe[contains(@class,'meeting')]")},
			{Name: "frame-title-meeting", Sel: XPath("//iframe[contains(@title,'meeting')]")},
			{Name: "frame-src-meeting", Sel: XPath("//iframe[contains(@src,'meeting')]")},
			{Name: "frame-src-zoom", Sel: XPath("//iframe[contains(@src,'zoom')]")},
		},
		OverlayDismiss: LocatorChain{
			{Name: "overlay-div", Sel: XPath("//div[contains(@class,'overlay')]")},
			{Name: "modal-div", Sel: XPath("//div[contains(@class,'modal')]")},
			{Name: "popup-div", Sel: XPath("//div[contains(@class,'popup')]")},
			{Name: "close-aria", Sel: XPath("//button[contains(@aria-label,'Close')]")},
			{Name: "close-title", Sel: XPath("//button[contains(@title,'Close')]")},
			{Name: "close-span", Sel: XPath("//span[contains(@class,'close')]")},
		},
		ChatToggle: LocatorChain{
			{Name: "footer-chat-panel", Sel: XPath("//div[@id='chat']//button[@aria-label='open the chat panel']")},
			{Name: "chat-panel-aria", Sel: XPath("//button[contains(@aria-label,'chat panel')]")},
		},
		ChatLabel:     XPath("//div[@id='chat']//span[contains(@class,'footer-button-base__button-label')]"),
		ChatLabelText: "Chat",
		ChatInput: LocatorChain{
			{Name: "prosemirror-input", Sel: CSS("div.tiptap.ProseMirror[contenteditable='true']")},
			{Name: "contenteditable", Sel: CSS("div[contenteditable='true']")},
		},
		ChatMessages: CSS("div[id^='chat-message-content']"),
		LeaveButton: LocatorChain{
			{Name: "leave-aria", Sel: XPath("//button[contains(@aria-label,'Leave')]")},
			{Name: "leave-text", Sel: XPath("//button[contains(text(),'Leave')]")},
			{Name: "leave-title", Sel: XPath("//button[contains(@title,'Leave')]")},
		},
		LeaveConfirm: LocatorChain{
			{Name: "leave-meeting", Sel: XPath("//button[contains(text(),'Leave Meeting')]")},
			{Name: "leave-options", Sel: XPath("//div[contains(@class,'leave-meeting-options')]//button")},
		},
	}
}

func meetSurfaces() Surfaces {
	return Surfaces{
		PermissionDismiss: LocatorChain{
			{Name: "continue-without-mic", Sel: XPath("//span[contains(text(),'Continue without microphone')]/ancestor::button")},
			{Name: "dismiss-button", Sel: XPath("//button[.//span[contains(text(),'Dismiss')]]")},
		},
		NameField: LocatorChain{
			{Name: "name-placeholder", Sel: XPath("//input[@placeholder='Your name']")},
			{Name: "name-aria", Sel: CSS("input[aria-label='Your name']")},
			{Name: "name-placeholder-css", Sel: CSS("input[placeholder*='name']")},
		},
		// Meet asks for no passcode on the pre-join screen.
		PasscodeField: nil,
		JoinButton: LocatorChain{
			{Name: "join-now", Sel: XPath("//span[contains(text(),'Join now')]/ancestor::button")},
			{Name: "ask-to-join", Sel: XPath("//span[contains(text(),'Ask to join')]/ancestor::button")},
		},
		JoinedMarkers: LocatorChain{
			{Name: "leave-call", Sel: CSS("button[aria-label='Leave call']")},
			{Name: "chat-everyone", Sel: CSS("button[aria-label*='Chat with everyone']")},
		},
		// Meet renders in the top document.
		MeetingFrame: nil,
		OverlayDismiss: LocatorChain{
			{Name: "close-aria", Sel: XPath("//button[contains(@aria-label,'Close')]")},
		},
		ChatToggle: LocatorChain{
			{Name: "chat-everyone", Sel: CSS("button[aria-label='Chat with everyone']")},
			{Name: "chat-aria", Sel: XPath("//button[contains(@aria-label,'Chat')]")},
		},
		ChatInput: LocatorChain{
			{Name: "send-to-everyone", Sel: CSS("textarea[aria-label='Send a message to everyone']")},
			{Name: "send-aria", Sel: XPath("//textarea[contains(@aria-label,'Send a message')]")},
		},
		ChatMessages: CSS("div[data-message-text]"),
		LeaveButton: LocatorChain{
			{Name: "leave-call", Sel: CSS("button[aria-label='Leave call']")},
			{Name: "leave-aria", Sel: XPath("//button[contains(@aria-label,'Leave')]")},
		},
		LeaveConfirm: LocatorChain{
			{Name: "just-leave", Sel: XPath("//span[contains(text(),'Just leave the call')]/ancestor::button")},
		},
	}
}
