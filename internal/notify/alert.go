package notify

import (
	"context"
	"fmt"
)

// OperatorAlerter sends job failure alerts to the admin chat.
type OperatorAlerter struct {
	Notifier    Notifier
	AdminChatID int64
}

func NewOperatorAlerter(n Notifier, adminChatID int64) *OperatorAlerter {
	return &OperatorAlerter{Notifier: n, AdminChatID: adminChatID}
}

func (a *OperatorAlerter) Alert(ctx context.Context, job string, err error) {
	if a.AdminChatID == 0 {
		return
	}
	a.Notifier.Notify(ctx, a.AdminChatID, fmt.Sprintf("⚠️ Job %q failed: %v", job, err))
}
