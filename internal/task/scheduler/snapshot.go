package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.running, Timezone: s.loc.String()}
	for _, d := range s.defs {
		it := CronInfo{Name: d.name, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Cron = append(snap.Cron, it)
	}
	s.mu.Unlock()
	snap.Once = s.Pending()
	return snap
}
