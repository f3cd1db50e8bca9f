// Package wire implements the framed wire format shared by the server and
// every client.  One frame is one logical message: a 2-byte big-endian
// length prefix followed by `key[32] ‖ iv[16] ‖ base64(iv[16] ‖ obfuscated)`,
// where the obfuscated bytes are the UTF-8 JSON document XORed with a
// keystream derived from the per-frame key and IV.  Each frame carries its
// own key material, so no handshake is needed.
package wire

import "encoding/json"

// Command identifies a client → server request.
type Command string

const (
	CmdLogin        Command = "login"
	CmdRegister     Command = "register"
	CmdGetUsers     Command = "get_users"
	CmdGetHistory   Command = "get_history"
	CmdChat         Command = "chat"
	CmdFileRequest  Command = "file_request"
	CmdFileResponse Command = "file_response"
	CmdClose        Command = "close"
)

// Event identifies a server → client message.
type Event string

const (
	EventLoginResult      Event = "login_result"
	EventRegisterResult   Event = "register_result"
	EventPeerJoined       Event = "peer_joined"
	EventPeerLeft         Event = "peer_left"
	EventGetUsers         Event = "get_users"
	EventGetHistory       Event = "get_history"
	EventPrivateMessage   Event = "private_message"
	EventBroadcastMessage Event = "broadcast_message"
	EventFileRequest      Event = "file_request"
	EventFileResponse     Event = "file_response"
)

// Response values carried in the "response" field.
const (
	ResponseOK     = "ok"
	ResponseFail   = "fail"
	ResponseError  = "error"
	ResponseAccept = "accept"
	ResponseDeny   = "deny"
)

// Message is the JSON document inside a frame.  Requests set Command,
// server events set Type; every other field is present only when the
// particular message shape uses it.
type Message struct {
	Command  Command         `json:"command,omitempty"`
	Type     Event           `json:"type,omitempty"`
	Username string          `json:"username,omitempty"`
	Password string          `json:"password,omitempty"`
	Peer     string          `json:"peer,omitempty"`
	Message  string          `json:"message,omitempty"`
	Response string          `json:"response,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Filename string          `json:"filename,omitempty"`
	Size     string          `json:"size,omitempty"`
	MD5      string          `json:"md5,omitempty"`
	IP       string          `json:"ip,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// HistoryEntry is one stored chat line.  On the wire it is the 3-element
// array [sender, "MM/DD HH:MM", text], matching the history lists returned
// by get_history.
type HistoryEntry struct {
	Sender    string
	Timestamp string
	Text      string
}

// TimestampLayout is the short local-time format used for history entries.
const TimestampLayout = "01/02 15:04"

func (e HistoryEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{e.Sender, e.Timestamp, e.Text})
}

func (e *HistoryEntry) UnmarshalJSON(data []byte) error {
	var tuple [3]string
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	e.Sender, e.Timestamp, e.Text = tuple[0], tuple[1], tuple[2]
	return nil
}
