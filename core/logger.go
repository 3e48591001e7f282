package core

// Logger is any service that can log messages.
// Expected args: error | map[string]interface{} | user.Profile
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Metrics records the outcome of the client flows worth counting.
type Metrics interface {
	TokenRefreshed(ok bool)
	ForcedLogout()
	QuizSubmitted(auto, ok bool)
}
