package visitguard

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Logger is the leveled logger used by Guard and Visit. Adapters for zap,
// logrus, slog and zerolog live under log/. A nil Logger disables logging.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}
