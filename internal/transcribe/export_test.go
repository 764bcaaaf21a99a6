package transcribe

// Exports for testing. These allow black-box tests to exercise internal
// logic without widening the public API.

var (
	ClassifyError   = classifyError
	CheckResponse   = checkResponse
	NormalizeText   = normalizeText
	FindRepeatedRun = findRepeatedRun
)
