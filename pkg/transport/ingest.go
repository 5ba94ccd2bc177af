package transport

import (
	"errors"
	"fmt"

	"github.com/ohler55/ojg/oj"

	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
)

// Devices in the field speak several payload dialects: current firmware
// uses abbreviated keys, older firmware and the iOS bridge use longer
// ones. DecodeInbound is the single place where the aliasing is resolved;
// everything behind it sees one canonical shape.

var ErrDecode = errors.New("unable to decode inbound message")

// alias chains, resolved left to right
var (
	deviceKeys   = []string{"device", "dev", "src"}
	commandKeys  = []string{"cmd", "command"}
	hitAreaKeys  = []string{"ha", "hitAreaIOS", "hitArea"}
	targetKeys   = []string{"tgt", "target"}
	typeKeys     = []string{"tt", "targetType"}
	repeatKeys   = []string{"rpt", "repeat"}
	posXKeys     = []string{"px", "posX", "positionX"}
	posYKeys     = []string{"py", "posY", "positionY"}
	rotationKeys = []string{"rot", "rotation"}
	shotTimeKeys = []string{"st", "shotTime", "time"}
)

// DecodeInbound parses a raw device message into its canonical form.
func DecodeInbound(data []byte) (*Inbound, error) {
	parsed, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	envelope, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: payload is not an object", ErrDecode)
	}
	device := firstString(envelope, deviceKeys...)
	if device == "" {
		return nil, fmt.Errorf("%w: missing device identifier", ErrDecode)
	}
	content, ok := envelope["content"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing content object", ErrDecode)
	}

	if ack := firstString(content, "ack"); ack != "" {
		return &Inbound{
			Device:        device,
			Ack:           ack,
			DelayTime:     firstString(content, "delay_time"),
			DrillDuration: firstFloat(content, "drill_duration"),
		}, nil
	}

	if firstString(content, hitAreaKeys...) == "" {
		return nil, fmt.Errorf("%w: content is neither ack nor shot", ErrDecode)
	}
	shot := &model.ShotRecord{
		Device:     device,
		Target:     firstString(content, targetKeys...),
		HitArea:    firstString(content, hitAreaKeys...),
		TargetType: firstString(content, typeKeys...),
		PositionX:  firstFloat(content, posXKeys...),
		PositionY:  firstFloat(content, posYKeys...),
		Rotation:   firstFloat(content, rotationKeys...),
		ShotTime:   firstFloat(content, shotTimeKeys...),
	}
	if rpt, ok := firstInt(content, repeatKeys...); ok {
		shot.RepeatNumber = &rpt
	}
	return &Inbound{Device: device, Shot: shot}, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstFloat(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		}
	}
	return 0
}

func firstInt(m map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}
