package version

// Version is the current version of the nursecall client.
// This value can be overridden at build time using:
//   go build -ldflags="-X 'github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/version.Version=v1.0.0'"
var Version = "dev"

// UserAgent is sent on the relay handshake so the backend can tell CLI
// clients apart from the browser app.
func UserAgent() string {
	return "nursecall/" + Version
}
