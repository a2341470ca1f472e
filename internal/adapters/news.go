package adapters

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/signal-trader/internal/observ"
	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

// Deduplicator remembers content hashes for a retention window.
type Deduplicator struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
}

func NewDeduplicator(retention time.Duration) *Deduplicator {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Deduplicator{seen: make(map[string]time.Time), retention: retention}
}

// ContentHash identifies an article by source and normalized title.
func ContentHash(a signals.Article) string {
	key := strings.ToLower(strings.TrimSpace(a.Source)) + "|" + strings.ToLower(strings.Join(strings.Fields(a.Title), " "))
	return fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
}

// Fresh reports whether the article has not been seen inside the window,
// and marks it seen.
func (d *Deduplicator) Fresh(a signals.Article, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for h, at := range d.seen {
		if now.Sub(at) > d.retention {
			delete(d.seen, h)
		}
	}
	h := ContentHash(a)
	if _, ok := d.seen[h]; ok {
		return false
	}
	d.seen[h] = now
	return true
}

// SimNewsProvider is the reference NewsProvider. It returns articles
// published since the previous call, from an explicit queue and, when
// PerCall > 0, from a headline generator.
type SimNewsProvider struct {
	mu      sync.Mutex
	pending []signals.Article
	random  *rand.Rand
	symbols []string
	perCall int
	dedupe  *Deduplicator
	clock   func() time.Time
}

type SimNewsConfig struct {
	Symbols []string
	PerCall int
	Seed    int64
	Clock   func() time.Time
}

func NewSimNewsProvider(cfg SimNewsConfig) *SimNewsProvider {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &SimNewsProvider{
		random:  rand.New(rand.NewSource(cfg.Seed)),
		symbols: append([]string(nil), cfg.Symbols...),
		perCall: cfg.PerCall,
		dedupe:  NewDeduplicator(24 * time.Hour),
		clock:   cfg.Clock,
	}
}

// Publish queues articles for the next GetRecentArticles call.
func (p *SimNewsProvider) Publish(articles ...signals.Article) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, articles...)
}

func (p *SimNewsProvider) GetRecentArticles(ctx context.Context) ([]signals.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	for i := 0; i < p.perCall && len(p.symbols) > 0; i++ {
		batch = append(batch, p.generate())
	}
	p.mu.Unlock()

	now := p.clock()
	out := make([]signals.Article, 0, len(batch))
	for _, a := range batch {
		if !p.dedupe.Fresh(a, now) {
			observ.IncCounter("news_duplicates_filtered_total", map[string]string{"source": a.Source})
			continue
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.PublishedAt.IsZero() {
			a.PublishedAt = now
		}
		out = append(out, a)
	}
	observ.IncCounterBy("news_articles_total", nil, int64(len(out)))
	return out, nil
}

var headlineTemplates = []string{
	"%s shares surge after record quarterly revenue",
	"%s beats estimates as growth accelerates",
	"Analysts upgrade %s on strong profit outlook",
	"%s announces major buyback program",
	"%s stock drops on weak guidance warning",
	"Regulators open investigation into %s",
	"%s misses expectations, shares fall",
	"%s faces lawsuit over product delay",
	"%s trades flat ahead of earnings",
	"%s expands partnership with cloud provider",
}

func (p *SimNewsProvider) generate() signals.Article {
	sym := p.symbols[p.random.Intn(len(p.symbols))]
	tpl := headlineTemplates[p.random.Intn(len(headlineTemplates))]
	return signals.Article{
		Title:   fmt.Sprintf(tpl, sym),
		Source:  "sim",
		Symbols: []string{sym},
	}
}
