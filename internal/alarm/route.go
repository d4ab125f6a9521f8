package alarm

import "github.com/sitewatch/monitor/internal/protocol"

// Route registers handlers on d that keep feed current: alarm.created adds
// to the head of the feed and alarm.updated replaces the matching entry in
// place. When w is non-nil each change is also queued for the store.
// Payloads that fail to decode are logged and dropped.
func Route(d *Dispatcher, feed *Feed, w *Writer) {
	d.Register(protocol.EventAlarmCreated, func(e protocol.Event) {
		a, err := protocol.DecodeAlarm(e)
		if err != nil {
			d.logger.Warn().Err(err).Msg("dropping alarm event")
			return
		}
		stored := feed.Add(a)
		d.logger.Info().
			Str("alarm_id", stored.ID).
			Str("site_id", stored.SiteID).
			Str("severity", string(stored.Severity)).
			Msg("alarm raised")
		if w != nil {
			w.Push(stored)
		}
	})

	d.Register(protocol.EventAlarmUpdated, func(e protocol.Event) {
		a, err := protocol.DecodeAlarm(e)
		if err != nil {
			d.logger.Warn().Err(err).Msg("dropping alarm event")
			return
		}
		if !feed.Update(a) {
			d.logger.Debug().Str("alarm_id", a.ID).Msg("update for alarm not in feed")
		}
		if w != nil {
			w.Update(a)
		}
	})
}
