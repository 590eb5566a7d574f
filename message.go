package main

const (
	MsgNoSubject = "No one was detected in this frame. The previous label still applies."

	MsgModelUnavailable = "Server-side pose estimation is not enabled. Send landmarks instead of images."

	MsgMalformedFrame = "The frame is missing landmarks needed to judge posture (nose, ears and shoulders)."

	MsgCaptureSuppressed = "A reference posture capture is already in progress."
)
