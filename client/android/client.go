// Package android exposes the resolver lifecycle to the mobile host. Only
// basic types cross the boundary so the package stays binding-friendly; all
// real work happens in client/internal.
package android

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/HodlOnToYourButts/Alfis-android/client/internal"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/config"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/eventbus"
	"github.com/HodlOnToYourButts/Alfis-android/client/internal/logbuf"
	"github.com/HodlOnToYourButts/Alfis-android/util"
)

// Client manages the life cycle of the embedded resolver for one host app.
// All methods are safe to call from any host thread.
type Client struct {
	console    *logbuf.Buffer
	controller *internal.Controller
	logOnce    sync.Once
}

// NewClient instantiate a new Client
func NewClient() *Client {
	console := logbuf.New()
	return &Client{
		console:    console,
		controller: internal.NewController(console, eventbus.Default()),
	}
}

// InitLogging configures structured logging once per process: rotated file
// output when logFilePath is set, plus a console mirror the host can poll.
// Subsequent calls are no-ops.
func (c *Client) InitLogging(logFilePath string) {
	c.logOnce.Do(func() {
		if err := util.InitLog("info", logFilePath); err != nil {
			log.Errorf("failed to initialize logging: %v", err)
			return
		}
		log.AddHook(logbuf.NewHook(c.console))
		log.Info("Logging initialized")
	})
}

// StartDnsServer starts the resolver from the config at configPath, storing
// its database under workDir. Returns whether the service is running after
// the startup grace period; calling it on a running service returns true.
func (c *Client) StartDnsServer(configPath, workDir, logFilePath string) bool {
	c.InitLogging(logFilePath)
	return c.controller.Start(configPath, workDir)
}

// StopDnsServer stops the resolver. Returns false when it was not running.
func (c *Client) StopDnsServer() bool {
	return c.controller.Stop()
}

// IsDnsServerRunning reports whether the resolver is up.
func (c *Client) IsDnsServerRunning() bool {
	return c.controller.IsRunning()
}

// GetDnsStats returns the service counters as a JSON document, all zeros
// when the resolver is stopped.
func (c *Client) GetDnsStats() string {
	return c.controller.Stats()
}

// GetConsoleOutput returns the buffered console lines, newest last, without
// clearing them.
func (c *Client) GetConsoleOutput() string {
	return c.console.Snapshot()
}

// TriggerNetworkReconnect drops all peer connections and reconnects. A no-op
// when the resolver is stopped.
func (c *Client) TriggerNetworkReconnect() {
	c.controller.ReconnectNetwork()
}

// GenerateDefaultConfig writes the default configuration to path, replacing
// any existing file.
func (c *Client) GenerateDefaultConfig(path string) bool {
	if err := config.GenerateDefault(path); err != nil {
		log.Errorf("failed to generate default config: %v", err)
		return false
	}
	log.Infof("Generated default config at %s", path)
	return true
}
