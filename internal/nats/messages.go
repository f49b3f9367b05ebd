package nats

import (
	"encoding/json"
	"fmt"
)

// SubjectPrefix roots every sinkcam subject.
const SubjectPrefix = "sinkcam"

// SubjectRelayState carries relay state transitions of camera.
func SubjectRelayState(camera string) string {
	return fmt.Sprintf("%s.%s.state", SubjectPrefix, camera)
}

// SubjectObservers carries observer count changes.
func SubjectObservers(camera string) string {
	return fmt.Sprintf("%s.%s.observers", SubjectPrefix, camera)
}

// SubjectClients carries producer and consumer attach/detach notices.
func SubjectClients(camera string) string {
	return fmt.Sprintf("%s.%s.clients", SubjectPrefix, camera)
}

// SubjectDepth carries depth clip changes.
func SubjectDepth(camera string) string {
	return fmt.Sprintf("%s.%s.depth", SubjectPrefix, camera)
}

// SubjectControlWarning is the request subject for warning text commands.
func SubjectControlWarning(camera string) string {
	return fmt.Sprintf("%s.%s.control.warning", SubjectPrefix, camera)
}

// SubjectControlDepth is the request subject for depth clip commands.
func SubjectControlDepth(camera string) string {
	return fmt.Sprintf("%s.%s.control.depth", SubjectPrefix, camera)
}

// StateMessage reports a relay state transition.
type StateMessage struct {
	Camera    string `json:"camera"`
	State     string `json:"state"`
	Previous  string `json:"previous"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ObserversMessage reports the observer count.
type ObserversMessage struct {
	Camera    string `json:"camera"`
	Observers int    `json:"observers"`
	Running   bool   `json:"running"`
	Timestamp string `json:"timestamp"`
}

// ClientMessage reports a producer or consumer attaching or detaching.
type ClientMessage struct {
	Camera    string `json:"camera"`
	Role      string `json:"role"`
	ClientID  string `json:"client_id"`
	Action    string `json:"action"`
	Layout    string `json:"layout,omitempty"`
	Timestamp string `json:"timestamp"`
}

// DepthMessage reports the depth clip in effect.
type DepthMessage struct {
	Camera    string `json:"camera"`
	ClipNear  uint32 `json:"clip_near"`
	ClipFar   uint32 `json:"clip_far"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// WarningCommand sets or clears the warning text. Clear wins over Text.
type WarningCommand struct {
	Text  string `json:"text,omitempty"`
	Clear bool   `json:"clear,omitempty"`
}

// DepthCommand sets the depth clip range in millimetres.
type DepthCommand struct {
	ClipNear uint32 `json:"clip_near"`
	ClipFar  uint32 `json:"clip_far"`
}

// Reply answers a control request.
type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func decode[T any](data []byte) (T, error) {
	var m T
	err := json.Unmarshal(data, &m)
	return m, err
}
