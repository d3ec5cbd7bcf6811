package tcp

import (
	"log/slog"

	"github.com/soypat/rawtcp/internal"
)

type logger struct {
	log *slog.Logger
}

func (l *logger) logenabled(lvl slog.Level) bool {
	return internal.LogEnabled(l.log, lvl)
}

func (l *logger) logattrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, lvl, msg, attrs...)
}

func (l *logger) debug(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelDebug, msg, attrs...)
}

func (l *logger) trace(msg string, attrs ...slog.Attr) {
	l.logattrs(internal.LevelTrace, msg, attrs...)
}

func (l *logger) logerr(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelError, msg, attrs...)
}

func (stk *Stack) traceSeg(msg string, id ConnID, seg Segment) {
	if stk.logenabled(internal.LevelTrace) {
		stk.trace(msg,
			internal.SlogAddr4("remote", id.RemoteAddr.As4()),
			slog.Uint64("port", uint64(id.RemotePort)),
			slog.Uint64("seg.seq", uint64(seg.SEQ)),
			slog.Uint64("seg.ack", uint64(seg.ACK)),
			slog.Uint64("seg.wnd", uint64(seg.WND)),
			slog.String("seg.flags", seg.Flags.String()),
			slog.Uint64("seg.data", uint64(seg.DATALEN)),
		)
	}
}

func (stk *Stack) traceSnd(msg string, s *socket) {
	if stk.logenabled(internal.LevelTrace) {
		stk.trace(msg,
			slog.String("state", s.state.String()),
			slog.Uint64("snd.nxt", uint64(s.snd.NXT)),
			slog.Uint64("snd.una", uint64(s.snd.UNA)),
			slog.Uint64("snd.wnd", uint64(s.snd.WND)),
		)
	}
}
