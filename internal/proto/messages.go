// Package proto holds the wire-level message catalogue. These are plain
// Go structs rather than code-generated protobuf types: nothing in this
// lineage's dependency surface pulls in a protobuf library, so payloads
// are modeled the same way the teacher lineage already models its
// message catalogue — JSON-tagged structs — just marshaled with
// sugawarayuuta/sonnet instead of encoding/json for the speed this
// lineage's other members reach for it.
package proto

import "github.com/sugawarayuuta/sonnet"

// MsgType is the 16-bit wire type key from the LengthHeaderFrame header.
type MsgType uint16

const (
	MsgTelemetry      MsgType = 0x1001
	MsgMpcTrajectory  MsgType = 0x1002
	MsgTaskFeedback   MsgType = 0x1003
	MsgAgvCommand     MsgType = 0x2001
	MsgNavigationTask MsgType = 0x2002
	MsgLatencyProbe   MsgType = 0x2003
	MsgCommonResponse MsgType = 0x3001
	MsgHeartbeat      MsgType = 0x3002
)

func (t MsgType) String() string {
	switch t {
	case MsgTelemetry:
		return "Telemetry"
	case MsgMpcTrajectory:
		return "MpcTrajectory"
	case MsgTaskFeedback:
		return "TaskFeedback"
	case MsgAgvCommand:
		return "AgvCommand"
	case MsgNavigationTask:
		return "NavigationTask"
	case MsgLatencyProbe:
		return "LatencyProbe"
	case MsgCommonResponse:
		return "CommonResponse"
	case MsgHeartbeat:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}

// Message is the contract ProtobufDispatcher parses payload bytes into:
// every wire type is an opaque serializable value satisfying it.
type Message interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type CmdType string

const (
	CmdEmergencyStop CmdType = "EMERGENCY_STOP"
	CmdResume        CmdType = "RESUME"
	CmdPause         CmdType = "PAUSE"
	CmdReboot        CmdType = "REBOOT"
	CmdNavigateTo    CmdType = "NAVIGATE_TO"
)

type Operation string

const (
	OpMoveOnly Operation = "MOVE_ONLY"
	OpPickUp   Operation = "PICK_UP"
	OpPutDown  Operation = "PUT_DOWN"
)

type Status string

const (
	StatusOK             Status = "OK"
	StatusInvalidRequest Status = "INVALID_REQUEST"
	StatusInternalError  Status = "INTERNAL_ERROR"
	StatusTimeout        Status = "TIMEOUT"
)

// Telemetry is the high-frequency upstream pose/health report, type
// 0x1001.
type Telemetry struct {
	AgvID           string  `json:"agv_id"`
	TimestampUS     int64   `json:"timestamp_us"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Theta           float64 `json:"theta"`
	Confidence      float64 `json:"confidence"`
	LinearVelocity  float64 `json:"linear_velocity"`
	AngularVelocity float64 `json:"angular_velocity"`
	Acceleration    float64 `json:"acceleration"`
	PayloadWeight   float64 `json:"payload_weight"`
	Battery         float64 `json:"battery"`
	ErrorCode       int32   `json:"error_code"`
	ForkHeight      float64 `json:"fork_height"`
}

func (m *Telemetry) MarshalBinary() ([]byte, error) { return sonnet.Marshal(m) }
func (m *Telemetry) UnmarshalBinary(b []byte) error { return sonnet.Unmarshal(b, m) }

// MpcTrajectory, type 0x1002. Not given explicit handler semantics by
// this spec; falls to the dispatcher's default callback.
type MpcTrajectory struct {
	AgvID       string  `json:"agv_id"`
	TimestampUS int64   `json:"timestamp_us"`
	Horizon     []Point `json:"horizon"`
}

func (m *MpcTrajectory) MarshalBinary() ([]byte, error) { return sonnet.Marshal(m) }
func (m *MpcTrajectory) UnmarshalBinary(b []byte) error { return sonnet.Unmarshal(b, m) }

// TaskFeedback, type 0x1003. Not given explicit handler semantics by this
// spec; falls to the dispatcher's default callback.
type TaskFeedback struct {
	AgvID       string `json:"agv_id"`
	TaskID      string `json:"task_id"`
	TimestampUS int64  `json:"timestamp_us"`
	Completed   bool   `json:"completed"`
}

func (m *TaskFeedback) MarshalBinary() ([]byte, error) { return sonnet.Marshal(m) }
func (m *TaskFeedback) UnmarshalBinary(b []byte) error { return sonnet.Unmarshal(b, m) }

// AgvCommand, type 0x2001.
type AgvCommand struct {
	TargetAgvID string   `json:"target_agv_id"`
	TimestampUS int64    `json:"timestamp_us"`
	CmdType     CmdType  `json:"cmd_type"`
	TargetNode  *Point   `json:"target_node,omitempty"`
}

func (m *AgvCommand) MarshalBinary() ([]byte, error) { return sonnet.Marshal(m) }
func (m *AgvCommand) UnmarshalBinary(b []byte) error { return sonnet.Unmarshal(b, m) }

// NavigationTask, type 0x2002.
type NavigationTask struct {
	TargetAgvID string    `json:"target_agv_id"`
	TaskID      string    `json:"task_id"`
	TargetNode  Point     `json:"target_node"`
	Operation   Operation `json:"operation"`
	GlobalPath  []Point   `json:"global_path"`
}

func (m *NavigationTask) MarshalBinary() ([]byte, error) { return sonnet.Marshal(m) }
func (m *NavigationTask) UnmarshalBinary(b []byte) error { return sonnet.Unmarshal(b, m) }

// LatencyProbe, type 0x2003, bidirectional in effect (sent by the server,
// echoed by the client with is_response = true).
type LatencyProbe struct {
	TargetAgvID     string `json:"target_agv_id"`
	SendTimestampUS int64  `json:"send_timestamp_us"`
	SeqNum          uint64 `json:"seq_num"`
	IsResponse      bool   `json:"is_response"`
}

func (m *LatencyProbe) MarshalBinary() ([]byte, error) { return sonnet.Marshal(m) }
func (m *LatencyProbe) UnmarshalBinary(b []byte) error { return sonnet.Unmarshal(b, m) }

// CommonResponse, type 0x3001.
type CommonResponse struct {
	Status      Status `json:"status"`
	Message     string `json:"message"`
	TimestampUS int64  `json:"timestamp_us"`
}

func (m *CommonResponse) MarshalBinary() ([]byte, error) { return sonnet.Marshal(m) }
func (m *CommonResponse) UnmarshalBinary(b []byte) error { return sonnet.Unmarshal(b, m) }

// Heartbeat, type 0x3002.
type Heartbeat struct {
	AgvID       string `json:"agv_id"`
	TimestampUS int64  `json:"timestamp_us"`
}

func (m *Heartbeat) MarshalBinary() ([]byte, error) { return sonnet.Marshal(m) }
func (m *Heartbeat) UnmarshalBinary(b []byte) error { return sonnet.Unmarshal(b, m) }
