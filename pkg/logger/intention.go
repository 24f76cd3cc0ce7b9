package logger

// Intention represents the semantic intent of a log line, orthogonal to level.
// It keeps emojis out of call sites while the console still shows icons.
type Intention string

const (
	IntentionStatistics Intention = "statistics"
	IntentionStatus     Intention = "status"
	IntentionCache      Intention = "cache"
	IntentionCost       Intention = "cost"
	IntentionUpload     Intention = "upload"
	IntentionRequest    Intention = "request"
	IntentionOutput     Intention = "output"
	IntentionWarning    Intention = "warning" // no icon mapping; level handles emphasis
	IntentionError      Intention = "error"   // no icon mapping; level handles emphasis
	IntentionSuccess    Intention = "success"
	IntentionDebug      Intention = "debug"
	IntentionConfig     Intention = "config"
)

// iconFor returns a short emoji string for console output for the intention.
func iconFor(i Intention) string {
	switch i {
	case IntentionStatistics:
		return "📊"
	case IntentionStatus:
		return "ℹ️"
	case IntentionCache:
		return "🗄️"
	case IntentionCost:
		return "💰"
	case IntentionUpload:
		return "📤"
	case IntentionRequest:
		return "🛰️"
	case IntentionOutput:
		return "↳"
	case IntentionSuccess:
		return "✅"
	case IntentionDebug:
		return "🛠️"
	case IntentionConfig:
		return "⚙️"
	default:
		return "➤"
	}
}
