package location

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mr1hm/acs-fasttrack/internal/geo"
	"github.com/mr1hm/acs-fasttrack/internal/models"
)

// ReplayProvider plays back a fixed route, one point per watch interval. It
// stands in for the device GPS when running headless.
type ReplayProvider struct {
	route  []models.Coordinates
	denied bool

	mu     sync.Mutex
	cursor int
}

func NewReplayProvider(route []models.Coordinates) *ReplayProvider {
	return &ReplayProvider{route: route}
}

// ParseRoute parses "lat,lon;lat,lon;..." into coordinates.
func ParseRoute(s string) ([]models.Coordinates, error) {
	var route []models.Coordinates
	for _, point := range strings.Split(s, ";") {
		point = strings.TrimSpace(point)
		if point == "" {
			continue
		}
		lat, lon, ok := strings.Cut(point, ",")
		if !ok {
			return nil, fmt.Errorf("invalid route point %q", point)
		}
		la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		if err != nil || la < -90 || la > 90 {
			return nil, fmt.Errorf("invalid latitude in %q", point)
		}
		lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
		if err != nil || lo < -180 || lo > 180 {
			return nil, fmt.Errorf("invalid longitude in %q", point)
		}
		route = append(route, models.Coordinates{Latitude: la, Longitude: lo})
	}
	if len(route) == 0 {
		return nil, errNoRoute
	}
	return route, nil
}

// Deny makes every call fail with ErrPermissionDenied.
func (p *ReplayProvider) Deny() {
	p.mu.Lock()
	p.denied = true
	p.mu.Unlock()
}

func (p *ReplayProvider) CurrentPosition(ctx context.Context) (models.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return models.Coordinates{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denied {
		return models.Coordinates{}, ErrPermissionDenied
	}
	if len(p.route) == 0 {
		return models.Coordinates{}, errNoRoute
	}
	return p.route[p.cursor], nil
}

func (p *ReplayProvider) Watch(opts WatchOptions, fn func(models.Coordinates)) (Subscription, error) {
	p.mu.Lock()
	denied := p.denied
	p.mu.Unlock()
	if denied {
		return nil, ErrPermissionDenied
	}
	if len(p.route) == 0 {
		return nil, errNoRoute
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}

	s := &replaySub{stop: make(chan struct{})}
	s.wg.Add(1)
	go p.run(s, interval, opts.DistanceFilterM, fn)
	return s, nil
}

func (p *ReplayProvider) next() models.Coordinates {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor < len(p.route)-1 {
		p.cursor++
	}
	return p.route[p.cursor]
}

func (p *ReplayProvider) run(s *replaySub, interval time.Duration, filterM float64, fn func(models.Coordinates)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *models.Coordinates
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			c := p.next()
			if last != nil && geo.DistanceMeters(*last, c) < filterM {
				continue
			}
			last = &c
			fn(c)
		}
	}
}

type replaySub struct {
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *replaySub) Unsubscribe() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}
