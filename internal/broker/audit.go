package broker

import (
	"encoding/json"
	"time"

	"github.com/webshell/broker/internal/logging"
)

var auditLogger = logging.GetLogger("webshell-audit")

// AuditEntry is one structured audit line for an established session: who
// connected, from what session, to what target. Not a tamper-evident audit
// subsystem, just a best-effort log line per successful connect.
type AuditEntry struct {
	SessionID   string `json:"session_id"`
	UserName    string `json:"username"`
	TargetHost  string `json:"target_host"`
	TargetPort  int    `json:"target_port"`
	ContainerID string `json:"container_id,omitempty"`
	LoginTime   string `json:"login_time"`
}

// AuditLogger emits one AuditEntry per successful connect.
type AuditLogger struct{}

// NewAuditLogger constructs an AuditLogger.
func NewAuditLogger() *AuditLogger { return &AuditLogger{} }

// LogConnect records a successful connect. Marshal failure is swallowed:
// audit logging never blocks or fails the session.
func (a *AuditLogger) LogConnect(sessionID, host string, port int, username, containerID string) {
	entry := AuditEntry{
		SessionID:   sessionID,
		UserName:    username,
		TargetHost:  host,
		TargetPort:  port,
		ContainerID: containerID,
		LoginTime:   time.Now().Format("2006.01.02 15:04:05"),
	}

	b, err := json.Marshal(entry)
	if err != nil {
		return
	}

	auditLogger.Info(string(b))
}
