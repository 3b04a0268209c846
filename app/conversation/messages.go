package conversation

// Reply texts. All replies are plain text.
const (
	msgPromptSubscribe   = "👋 Hi! Send me the email you want to watch for leaks."
	msgPromptUnsubscribe = "Send me the email you want to stop watching."
	msgHelp              = "Commands:\n" +
		"/subscribe - watch an email for leaks\n" +
		"/unsubscribe - stop watching an email\n" +
		"/help - show this message"
	msgUnknown = "❗️ I did not understand that. See /help."

	msgAlreadySubscribed = "ℹ️ %s is already subscribed."
	msgSubscribed        = "✅ %s is subscribed. Use /unsubscribe to stop notifications."
	msgSubscribeFailed   = "⚠️ Could not save the subscription, please try again later."
	msgUnsubscribed      = "✅ %s is unsubscribed."
	msgUnsubscribeFailed = "⚠️ Could not remove the subscription, please try again later."
	msgNotFound          = "ℹ️ %s is not subscribed."
	msgChooseAction      = "Choose an action first, see /help."

	emailPlaceholder = "you@example.com"

	msgStats       = "Subscribers: %d\nPending leaks: %d\nNotified leaks: %d\nDead-lettered leaks: %d\nOpen conversations: %d"
	msgStatsFailed = "⚠️ Could not load statistics, please try again later."

	msgSlowDown = "⏳ Too many messages. Wait a moment and send that again."
)
