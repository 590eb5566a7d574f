package posture

import (
	"fmt"
	"strings"
)

// Label is the stable identifier of a displayable posture state.
type Label string

const (
	LabelGoodPosture Label = "good posture"
	LabelSlouching   Label = "slouching detected"

	LabelMaintained       Label = "maintained"
	LabelSlightlyOff      Label = "slightly off"
	LabelSomewhatOff      Label = "somewhat off"
	LabelSignificantlyOff Label = "significantly off"

	LabelCaptureArmed      Label = "setting reference posture"
	LabelReferenceSet      Label = "reference posture set"
	LabelCaptureCompleted  Label = "reference posture setting completed"
	LabelCaptureMissed     Label = "reference posture not captured"
	LabelAwaitingReference Label = "awaiting reference posture"
)

// Catalog maps labels to user-facing sentences.
type Catalog map[Label]string

var english = Catalog{
	LabelGoodPosture:       "Good posture. Keep it up!",
	LabelSlouching:         "You may be slouching. Pull your head back over your shoulders.",
	LabelMaintained:        "You're holding your reference posture!",
	LabelSlightlyOff:       "Your posture has drifted slightly from the reference.",
	LabelSomewhatOff:       "Your posture is somewhat off from the reference.",
	LabelSignificantlyOff:  "Your posture has broken down significantly!",
	LabelCaptureArmed:      "Setting reference posture in 3 seconds. Hold still.",
	LabelReferenceSet:      "Reference posture set.",
	LabelCaptureCompleted:  "Reference posture setting completed.",
	LabelCaptureMissed:     "No one was in view, so the reference posture was not set.",
	LabelAwaitingReference: "Sit the way you want to and set a reference posture.",
}

var japanese = Catalog{
	LabelGoodPosture:       "良い姿勢です",
	LabelSlouching:         "猫背の可能性があります",
	LabelMaintained:        "基準姿勢を維持できています！",
	LabelSlightlyOff:       "姿勢がわずかに崩れています",
	LabelSomewhatOff:       "姿勢が少し崩れています",
	LabelSignificantlyOff:  "姿勢が大きく崩れています！",
	LabelCaptureArmed:      "3秒後に基準姿勢を設定します",
	LabelReferenceSet:      "基準姿勢を設定しました",
	LabelCaptureCompleted:  "基準姿勢の設定が完了しました",
	LabelCaptureMissed:     "人物が検出されなかったため基準姿勢を設定できませんでした",
	LabelAwaitingReference: "基準姿勢を設定してください",
}

// CatalogFor returns the message catalog of a locale ("en" or "ja").
func CatalogFor(locale string) (Catalog, error) {
	switch strings.ToLower(locale) {
	case "", "en":
		return english, nil
	case "ja":
		return japanese, nil
	default:
		return nil, fmt.Errorf("unsupported locale %q", locale)
	}
}

// Message returns the sentence for l, or the label itself when the catalog has none.
func (c Catalog) Message(l Label) string {
	if msg, ok := c[l]; ok {
		return msg
	}
	return string(l)
}
