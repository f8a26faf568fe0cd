package android

import "sync"

// The host service talks to a single process-wide client; the functions
// below are the static entry points it binds against.
var (
	defaultClient *Client
	defaultOnce   sync.Once
)

func getClient() *Client {
	defaultOnce.Do(func() {
		defaultClient = NewClient()
	})
	return defaultClient
}

// InitLogging initializes process-wide logging. Idempotent.
func InitLogging(logFilePath string) {
	getClient().InitLogging(logFilePath)
}

// StartDnsServer starts the shared resolver instance.
func StartDnsServer(configPath, workDir, logFilePath string) bool {
	return getClient().StartDnsServer(configPath, workDir, logFilePath)
}

// StopDnsServer stops the shared resolver instance.
func StopDnsServer() bool {
	return getClient().StopDnsServer()
}

// IsDnsServerRunning reports whether the shared resolver instance is up.
func IsDnsServerRunning() bool {
	return getClient().IsDnsServerRunning()
}

// GetDnsStats returns the shared resolver counters as JSON.
func GetDnsStats() string {
	return getClient().GetDnsStats()
}

// GetConsoleOutput returns the buffered console lines.
func GetConsoleOutput() string {
	return getClient().GetConsoleOutput()
}

// TriggerNetworkReconnect reconnects the shared resolver's peers.
func TriggerNetworkReconnect() {
	getClient().TriggerNetworkReconnect()
}

// GenerateDefaultConfig writes the default configuration to path.
func GenerateDefaultConfig(path string) bool {
	return getClient().GenerateDefaultConfig(path)
}
