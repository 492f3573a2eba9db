package constant

// Roles stored in chat_history.role
const (
	ChatRoleUser = "User"
	ChatRoleBot  = "Bot"
)

// Lifecycle of a row in uploaded_files
const (
	UploadStatusProcessing = "PROCESSING"
	UploadStatusIndexed    = "INDEXED"
	UploadStatusFailed     = "FAILED"
)

// Inbound websocket event types
const (
	EventTypeFileUpload = "file_upload"
	EventTypeMessage    = "message"
)

// User-facing notices sent over the session transport
const (
	NoticeUploadReceived   = "📂 Received %s, processing..."
	NoticeKnowledgeUpdated = "✅ Knowledge base updated with %s"
	NoticeUploadFailed     = "❌ Failed to process %s: %v"
	NoticeUploadSummary    = "📝 Final summary of %s:\n%s"
	NoticeIdleWarning      = "⚠️ Idle timeout in %d seconds"
	NoticeIndexRebuilt     = "📚 Knowledge base updated: %s"
	NoticeIndexReset       = "🗑️ Knowledge base was cleared"
	UploadSummaryPrefix    = "[Uploaded File Summary]: "
	UploadSummaryMissing   = "<no summary>"
	QueryNoAnswer          = "I don't know."
)
