package bridge

import (
	"encoding/json"

	"github.com/goodtune/mindful/internal/blockpage"
	"github.com/goodtune/mindful/internal/browser"
)

// Message types exchanged with the extension shim.
const (
	TypeTabsSnapshot   = "tabsSnapshot"
	TypeTabActivated   = "tabActivated"
	TypeTabUpdated     = "tabUpdated"
	TypeTabRemoved     = "tabRemoved"
	TypeGetTime        = "getTime"
	TypeGetTimeResult  = "getTimeResult"
	TypeTimeUpdate     = "timeUpdate"
	TypeLimitAdded     = "limitAdded"
	TypeReplaceContent = "replaceContent"
	TypeNotification   = "notification"
)

// inbound is any message sent by the shim. Fields are populated according
// to Type.
type inbound struct {
	Type      string          `json:"type"`
	TabID     int             `json:"tabId"`
	URL       string          `json:"url,omitempty"`
	RequestID json.RawMessage `json:"requestId,omitempty"`
	Tabs      []browser.Tab   `json:"tabs,omitempty"`
}

type timeMessage struct {
	Type  string `json:"type"`
	TabID int    `json:"tabId"`
	browser.TimeData
}

type timeResultMessage struct {
	Type      string            `json:"type"`
	RequestID json.RawMessage   `json:"requestId"`
	Data      *browser.TimeData `json:"data"`
}

type replaceMessage struct {
	Type  string `json:"type"`
	TabID int    `json:"tabId"`
	blockpage.Page
}

type notificationMessage struct {
	Type string `json:"type"`
	browser.Notification
}
