// Package command models the operations a caller can ask of the ledger as a
// closed set of command types. Front ends that turn user input into intents
// build one of these and hand it to Execute.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/paystream"
	"github.com/xraph/paystream/id"
	"github.com/xraph/paystream/stream"
	"github.com/xraph/paystream/types"
)

// Action names a command.
type Action string

const (
	ActionCreate Action = "create"
	ActionClaim  Action = "claim"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionCancel Action = "cancel"
	ActionInfo   Action = "info"
	ActionList   Action = "list"
	ActionStats  Action = "stats"
)

// Command is implemented only by the types in this package.
type Command interface {
	Action() Action
	command()
}

// Create opens a new stream.
type Create struct {
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient"`
	Amount    types.Money `json:"amount"`
	Duration  Duration    `json:"duration"`
	StartAt   *time.Time  `json:"start_at,omitempty"`
}

// Claim withdraws everything claimable for the requester.
type Claim struct {
	StreamID  id.StreamID `json:"stream_id"`
	Requester string      `json:"requester"`
}

// Pause freezes accrual.
type Pause struct {
	StreamID  id.StreamID `json:"stream_id"`
	Requester string      `json:"requester"`
}

// Resume restarts accrual.
type Resume struct {
	StreamID  id.StreamID `json:"stream_id"`
	Requester string      `json:"requester"`
}

// Cancel ends a stream early.
type Cancel struct {
	StreamID  id.StreamID `json:"stream_id"`
	Requester string      `json:"requester"`
}

// Info reports what a stream has accrued.
type Info struct {
	StreamID id.StreamID `json:"stream_id"`
}

// List finds streams an account sends or receives.
type List struct {
	Sender    string       `json:"sender,omitempty"`
	Recipient string       `json:"recipient,omitempty"`
	State     stream.State `json:"state,omitempty"`
	Limit     int          `json:"limit,omitempty"`
}

// Stats aggregates the registry.
type Stats struct{}

func (Create) Action() Action { return ActionCreate }
func (Claim) Action() Action  { return ActionClaim }
func (Pause) Action() Action  { return ActionPause }
func (Resume) Action() Action { return ActionResume }
func (Cancel) Action() Action { return ActionCancel }
func (Info) Action() Action   { return ActionInfo }
func (List) Action() Action   { return ActionList }
func (Stats) Action() Action  { return ActionStats }

func (Create) command() {}
func (Claim) command()  {}
func (Pause) command()  {}
func (Resume) command() {}
func (Cancel) command() {}
func (Info) command()   {}
func (List) command()   {}
func (Stats) command()  {}

// Duration is a time.Duration that reads and writes Go duration strings.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(data []byte) error {
	v, err := time.ParseDuration(string(data))
	if err != nil {
		return fmt.Errorf("command: duration %q: %w", data, err)
	}
	*d = Duration(v)
	return nil
}

// envelope is the wire form {"action": "...", "params": {...}}.
type envelope struct {
	Action Action          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Encode renders cmd as a JSON envelope.
func Encode(cmd Command) ([]byte, error) {
	params, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("command: encode %s: %w", cmd.Action(), err)
	}
	return json.Marshal(envelope{Action: cmd.Action(), Params: params})
}

// Decode parses a JSON envelope into its concrete command.
func Decode(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, paystream.ValidationError{Field: "command", Message: err.Error()}
	}

	switch env.Action {
	case ActionCreate:
		return decodeAs[Create](env.Params)
	case ActionClaim:
		return decodeAs[Claim](env.Params)
	case ActionPause:
		return decodeAs[Pause](env.Params)
	case ActionResume:
		return decodeAs[Resume](env.Params)
	case ActionCancel:
		return decodeAs[Cancel](env.Params)
	case ActionInfo:
		return decodeAs[Info](env.Params)
	case ActionList:
		return decodeAs[List](env.Params)
	case ActionStats:
		return Stats{}, nil
	default:
		return nil, paystream.ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", env.Action)}
	}
}

func decodeAs[T Command](params json.RawMessage) (Command, error) {
	var c T
	if len(params) > 0 {
		if err := json.Unmarshal(params, &c); err != nil {
			return nil, paystream.ValidationError{Field: "params", Message: err.Error()}
		}
	}
	return c, nil
}

// Ledger is the part of *paystream.Ledger that Execute drives.
type Ledger interface {
	CreateStream(ctx context.Context, p paystream.CreateParams) (*stream.Stream, error)
	Claim(ctx context.Context, streamID id.StreamID, requester string) (*paystream.ClaimResult, error)
	Pause(ctx context.Context, streamID id.StreamID, requester string) (*stream.Stream, error)
	Resume(ctx context.Context, streamID id.StreamID, requester string) (*stream.Stream, error)
	Cancel(ctx context.Context, streamID id.StreamID, requester string) (*paystream.CancelResult, error)
	ClaimableInfo(ctx context.Context, streamID id.StreamID) (*paystream.ClaimableInfo, error)
	ListStreams(ctx context.Context, opts stream.ListOpts) ([]*stream.Stream, error)
	Stats(ctx context.Context) (*stream.Stats, error)
}

var _ Ledger = (*paystream.Ledger)(nil)

// Result holds the outcome of a command. Exactly the field matching the
// command's action is set.
type Result struct {
	Action  Action                   `json:"action"`
	Stream  *stream.Stream           `json:"stream,omitempty"`
	Claim   *paystream.ClaimResult   `json:"claim,omitempty"`
	Cancel  *paystream.CancelResult  `json:"cancel,omitempty"`
	Info    *paystream.ClaimableInfo `json:"info,omitempty"`
	Streams []*stream.Stream         `json:"streams,omitempty"`
	Stats   *stream.Stats            `json:"stats,omitempty"`
}

// Execute runs cmd against l. A cancel that leaves the stream cancel-pending
// returns the partial result together with the error.
func Execute(ctx context.Context, l Ledger, cmd Command) (*Result, error) {
	res := &Result{Action: cmd.Action()}
	var err error

	switch c := cmd.(type) {
	case Create:
		res.Stream, err = l.CreateStream(ctx, paystream.CreateParams{
			Sender:    c.Sender,
			Recipient: c.Recipient,
			Amount:    c.Amount,
			Duration:  time.Duration(c.Duration),
			StartAt:   c.StartAt,
		})
	case Claim:
		res.Claim, err = l.Claim(ctx, c.StreamID, c.Requester)
	case Pause:
		res.Stream, err = l.Pause(ctx, c.StreamID, c.Requester)
	case Resume:
		res.Stream, err = l.Resume(ctx, c.StreamID, c.Requester)
	case Cancel:
		res.Cancel, err = l.Cancel(ctx, c.StreamID, c.Requester)
		if err != nil && res.Cancel != nil {
			return res, err
		}
	case Info:
		res.Info, err = l.ClaimableInfo(ctx, c.StreamID)
	case List:
		res.Streams, err = l.ListStreams(ctx, stream.ListOpts{
			Sender:    c.Sender,
			Recipient: c.Recipient,
			State:     c.State,
			Limit:     c.Limit,
		})
	case Stats:
		res.Stats, err = l.Stats(ctx)
	default:
		return nil, fmt.Errorf("%w: unsupported command %T", paystream.ErrInvalidParameters, cmd)
	}

	if err != nil {
		return nil, err
	}
	return res, nil
}
