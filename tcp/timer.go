package tcp

import (
	"log/slog"
	"time"
)

// drainAcked pops fully acknowledged entries off the head of the
// retransmission queue, slides the send window right by their payload size
// and wakes blocked senders. Strict less-than is correct here even for
// zero-length SYN/FIN entries: seq is the entry's first octet while UNA is
// the next octet the peer expects. An acked FIN while in LAST-ACK completes
// the passive close. Called with the table lock held.
func (stk *Stack) drainAcked(s *socket) {
	for len(s.rtxq) > 0 {
		e := &s.rtxq[0]
		if !LessThan(e.seg.SEQ, s.snd.UNA) {
			break
		}
		stk.trace("acked", slog.Uint64("seq", uint64(e.seg.SEQ)))
		s.snd.WND += e.seg.DATALEN
		stk.ev.publish(s.id, evtAcked)
		if e.seg.Flags.HasAny(FlagFIN) && s.state == StateLastAck {
			stk.ev.publish(s.id, evtConnectionClosed)
		}
		s.rtxq = s.rtxq[1:]
	}
}

// retransmitLoop scans every socket's retransmission queue on a fixed period.
// Each tick drains acknowledged entries, then resends the head entry if it
// aged past the RTO, rotating it to the tail so younger entries get their
// turn. An entry that exhausts its transmissions is abandoned; if it carried
// FIN during a close the waiting closer is released, the peer presumed gone.
func (stk *Stack) retransmitLoop() {
	stk.debug("retransmission timer started")
	for {
		time.Sleep(timerPeriod)
		stk.mu.Lock()
		for _, s := range stk.socks {
			stk.drainAcked(s)
			for len(s.rtxq) > 0 {
				e := &s.rtxq[0]
				if stk.now().Sub(e.sentAt) < retransmitTimeout {
					// Younger entries behind the head have not timed out either.
					break
				}
				if e.txCount < maxTransmissions {
					if _, err := stk.transport.SendTo(s.id.RemoteAddr, e.raw); err != nil {
						// Transient: leave the entry untouched for the next tick.
						stk.logerr("retransmit", slog.String("err", err.Error()))
						break
					}
					stk.trace("retransmit",
						slog.Uint64("seq", uint64(e.seg.SEQ)),
						slog.Int("count", e.txCount+1),
					)
					e.txCount++
					e.sentAt = stk.now()
					rotated := s.rtxq[0]
					s.rtxq = append(s.rtxq[1:], rotated)
					break
				}
				// Out of attempts; drop the entry.
				stk.debug("max retransmissions reached", slog.Uint64("seq", uint64(e.seg.SEQ)))
				if e.seg.Flags.HasAny(FlagFIN) &&
					(s.state == StateLastAck || s.state == StateFinWait1 || s.state == StateFinWait2) {
					stk.ev.publish(s.id, evtConnectionClosed)
				}
				s.rtxq = s.rtxq[1:]
			}
		}
		stk.mu.Unlock()
	}
}
