package signal

import "github.com/dkeye/Meet/internal/protocol"

func (ctl *SignalWSController) handlePing(s *session) {
	ctl.sendJSON(s, &protocol.Pong{})
}
