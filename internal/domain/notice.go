package domain

// Notice is the last user-visible notification raised by the controller.
type Notice struct {
	Kind ErrorKind
	Text string
}

// User-facing notice texts.
const (
	NoticeAuthRequired       = "authentication required"
	NoticeInsufficientTokens = "insufficient tokens"
	NoticeSendFailed         = "failed to send"
	NoticeCreateFailed       = "failed to create conversation"
	NoticeResponderFailed    = "failed to get response"
	NoticeReplySaveFailed    = "failed to save reply"
	NoticeBillingFailed      = "billing error"
	NoticeConversationGone   = "conversation not found or unauthorized"
	NoticeLoadFailed         = "failed to load conversation"
)

// NoticeFor maps an error to a generic notice. Callers that know which step
// failed set a more specific text themselves.
func NoticeFor(err error) Notice {
	kind := KindOf(err)
	var text string
	switch kind {
	case KindAuthRequired:
		text = NoticeAuthRequired
	case KindInsufficientResource:
		text = NoticeInsufficientTokens
	case KindUnauthorized, KindNotFound:
		text = NoticeConversationGone
	case KindResponder:
		text = NoticeResponderFailed
	default:
		text = NoticeSendFailed
	}
	return Notice{Kind: kind, Text: text}
}
