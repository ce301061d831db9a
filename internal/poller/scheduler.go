package poller

import (
	"context"

	"github.com/messenger-client/internal/logger"
)

// Имена циклов.
const (
	Messages    = "messages"
	Discussions = "discussions"
	Unread      = "unread"
)

// Scheduler владеет фиксированным набором циклов по именам.
type Scheduler struct {
	loops  []*Loop
	byName map[string]*Loop
}

func NewScheduler(loops ...*Loop) *Scheduler {
	s := &Scheduler{byName: make(map[string]*Loop, len(loops))}
	for _, l := range loops {
		s.loops = append(s.loops, l)
		s.byName[l.name] = l
	}
	return s
}

func (s *Scheduler) Loop(name string) *Loop { return s.byName[name] }

// Start взводит все циклы, уже взведённые перевзводятся.
func (s *Scheduler) Start(ctx context.Context) {
	for _, l := range s.loops {
		l.Start(ctx)
		logger.Debugf("poller: started %s", l)
	}
}

// Stop снимает все циклы и ждёт их фоновые тики.
func (s *Scheduler) Stop() {
	for _, l := range s.loops {
		l.Stop()
	}
}

// Trigger запускает названные циклы по разу, каждый в своей горутине.
func (s *Scheduler) Trigger(ctx context.Context, names ...string) {
	for _, n := range names {
		if l, ok := s.byName[n]; ok {
			l.Go(ctx)
		}
	}
}

// TriggerAll запускает каждый цикл по разу.
func (s *Scheduler) TriggerAll(ctx context.Context) {
	for _, l := range s.loops {
		l.Go(ctx)
	}
}
