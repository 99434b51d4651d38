package edition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"diariodigest/internal/logger"
	"diariodigest/internal/models"

	"github.com/gofrs/flock"
)

// Policy decides what Put does with an edition already bound to another date.
type Policy string

const (
	PolicyReject Policy = "reject"
	PolicyFlag   Policy = "flag"
)

// ParsePolicy defaults to reject for anything it does not recognise.
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyFlag {
		return PolicyFlag
	}
	return PolicyReject
}

// ConflictKind distinguishes the two ways a write can contradict the cache.
type ConflictKind string

const (
	// DuplicateEdition: the edition is already bound to a different date.
	DuplicateEdition ConflictKind = "duplicate_edition"
	// DateRebound: the date already holds a different edition.
	DateRebound ConflictKind = "date_rebound"
)

// ConflictError is returned when a write would contradict an existing binding.
type ConflictError struct {
	Kind            ConflictKind
	Date            string
	EditionID       string
	ExistingDate    string
	ExistingEdition string
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case DateRebound:
		return fmt.Sprintf("edition cache conflict: %s already bound to edition %s, refusing %s",
			e.Date, e.ExistingEdition, e.EditionID)
	default:
		return fmt.Sprintf("edition cache conflict: edition %s already bound to %s, refusing it for %s",
			e.EditionID, e.ExistingDate, e.Date)
	}
}

// Entry is one cached binding. Provisional bindings are estimates that no
// live lookup has confirmed yet.
type Entry struct {
	Date        Date
	EditionID   string
	Provisional bool
}

// Model converts e to its wire form.
func (e Entry) Model() models.EditionCacheEntry {
	return models.EditionCacheEntry{Date: e.Date.String(), EditionID: e.EditionID, Provisional: e.Provisional}
}

// Cache is the persistent date to edition mapping.
//
// Every read-modify-write holds both the in-process mutex and an advisory
// lock on <path>.lock, and re-reads the file once the lock is held. Reads
// reload the file under a shared lock when another process replaced it.
//
// Which bindings are provisional is kept in <path>.provisional, a JSON list
// of dates, so the main file stays a flat date to edition object.
type Cache struct {
	path     string
	auditLog string
	policy   Policy

	mu          sync.Mutex
	lock        *flock.Flock
	entries     map[Date]string
	provisional map[Date]bool
	loaded      os.FileInfo
}

// Option configures a Cache.
type Option func(*Cache)

// WithPolicy sets the duplicate-edition policy.
func WithPolicy(p Policy) Option { return func(c *Cache) { c.policy = p } }

// WithAuditLog appends every conflict and repair to path as a JSON line.
func WithAuditLog(path string) Option { return func(c *Cache) { c.auditLog = path } }

// Open loads the cache at path. A missing file is an empty cache.
func Open(path string, opts ...Option) (*Cache, error) {
	c := &Cache{
		path:   path,
		policy: PolicyReject,
		lock:   flock.New(path + ".lock"),
	}
	for _, o := range opts {
		o(c)
	}
	if err := c.loadLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) provisionalPath() string { return c.path + ".provisional" }

// loadLocked replaces the in-memory state with the files on disk.
func (c *Cache) loadLocked() error {
	info, err := os.Stat(c.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read edition cache: %w", err)
	}
	entries, err := readFile(c.path)
	if err != nil {
		return err
	}
	provisional, err := readProvisional(c.provisionalPath())
	if err != nil {
		return err
	}
	for d := range provisional {
		if _, ok := entries[d]; !ok {
			delete(provisional, d)
		}
	}
	c.entries, c.provisional, c.loaded = entries, provisional, info
	return nil
}

// refreshLocked reloads when the cache file was replaced since the last load.
func (c *Cache) refreshLocked() {
	info, err := os.Stat(c.path)
	if err != nil {
		return
	}
	if c.loaded != nil && os.SameFile(c.loaded, info) && c.loaded.ModTime().Equal(info.ModTime()) && c.loaded.Size() == info.Size() {
		return
	}
	if err := c.lock.RLock(); err != nil {
		logger.Warn("edition cache: reload skipped", map[string]interface{}{"path": c.path, "error": err.Error()})
		return
	}
	defer c.lock.Unlock()
	if err := c.loadLocked(); err != nil {
		logger.Warn("edition cache: reload failed, keeping loaded entries", map[string]interface{}{"path": c.path, "error": err.Error()})
	}
}

func readProvisional(path string) (map[Date]bool, error) {
	out := make(map[Date]bool)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read provisional editions: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	var dates []string
	if err := json.Unmarshal(data, &dates); err != nil {
		return nil, fmt.Errorf("parse provisional editions %s: %w", path, err)
	}
	for _, k := range dates {
		if d, err := ParseDate(k); err == nil {
			out[d] = true
		}
	}
	return out, nil
}

func readFile(path string) (map[Date]string, error) {
	entries := make(map[Date]string)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read edition cache: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return entries, nil
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse edition cache %s: %w", path, err)
	}
	for k, v := range raw {
		d, err := ParseDate(k)
		if err != nil {
			logger.Warn("edition cache: skipping malformed key", map[string]interface{}{"key": k, "path": path})
			continue
		}
		entries[d] = v
	}
	return entries, nil
}

// Path returns the backing file.
func (c *Cache) Path() string { return c.path }

// Get returns the binding for d, provisional or not.
func (c *Cache) Get(d Date) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	id, ok := c.entries[d]
	return id, ok
}

// Provisional reports whether d is bound to an unconfirmed estimate.
func (c *Cache) Provisional(d Date) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return c.provisional[d]
}

// BoundDate returns a date other than except that holds id.
func (c *Cache) BoundDate(id string, except Date) (Date, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return c.boundDateLocked(id, except, false)
}

// confirmedBoundDate is BoundDate ignoring provisional bindings.
func (c *Cache) confirmedBoundDate(id string, except Date) (Date, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return c.boundDateLocked(id, except, true)
}

func (c *Cache) boundDateLocked(id string, except Date, confirmedOnly bool) (Date, bool) {
	var found []Date
	for d, v := range c.entries {
		if v == id && d != except && !(confirmedOnly && c.provisional[d]) {
			found = append(found, d)
		}
	}
	if len(found) == 0 {
		return Date{}, false
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Before(found[j]) })
	return found[0], true
}

// Put binds d to a confirmed edition id.
//
// Re-putting an existing binding is a no-op. A provisional estimate at d is
// replaced and the replacement is written to the audit log. A date that
// already holds a different confirmed edition is a DateRebound conflict;
// use Update to correct it. An edition already confirmed for another date is
// a DuplicateEdition conflict under PolicyReject, and an audit-log anomaly
// under PolicyFlag. Estimates for other dates holding id are dropped.
func (c *Cache) Put(d Date, id string) error {
	return c.transact(func() error {
		existing, ok := c.entries[d]
		if ok && !c.provisional[d] {
			if existing == id {
				return nil
			}
			err := &ConflictError{Kind: DateRebound, Date: d.String(), EditionID: id, ExistingEdition: existing}
			c.recordLocked("conflict", err)
			return err
		}
		if other, dup := c.boundDateLocked(id, d, true); dup {
			err := &ConflictError{Kind: DuplicateEdition, Date: d.String(), EditionID: id, ExistingDate: other.String()}
			if c.policy == PolicyReject {
				c.recordLocked("conflict", err)
				return err
			}
			c.recordLocked("flagged", err)
		}
		c.dropEstimatesLocked(id, d)
		if ok && c.provisional[d] {
			c.record(auditRecord{Action: "confirmed", Date: d.String(), Edition: id, Previous: existing})
		}
		c.entries[d] = id
		delete(c.provisional, d)
		return nil
	})
}

// PutEstimate binds d to a provisional edition id. An earlier estimate at d
// is replaced; a confirmed binding is never touched (DateRebound unless it
// already holds id). An edition bound to any other date is always a
// DuplicateEdition conflict, whatever the policy.
func (c *Cache) PutEstimate(d Date, id string) error {
	return c.transact(func() error {
		if existing, ok := c.entries[d]; ok && !c.provisional[d] {
			if existing == id {
				return nil
			}
			err := &ConflictError{Kind: DateRebound, Date: d.String(), EditionID: id, ExistingEdition: existing}
			c.recordLocked("conflict", err)
			return err
		}
		if other, dup := c.boundDateLocked(id, d, false); dup {
			err := &ConflictError{Kind: DuplicateEdition, Date: d.String(), EditionID: id, ExistingDate: other.String()}
			c.recordLocked("conflict", err)
			return err
		}
		c.entries[d] = id
		c.provisional[d] = true
		return nil
	})
}

// Update overwrites the binding for d unconditionally and marks it
// confirmed. Estimates for other dates holding id are dropped. This is the
// repair path and is always written to the audit log.
func (c *Cache) Update(d Date, id string) error {
	return c.transact(func() error {
		c.dropEstimatesLocked(id, d)
		prev := c.entries[d]
		c.entries[d] = id
		delete(c.provisional, d)
		c.record(auditRecord{
			Action:   "repair",
			Date:     d.String(),
			Edition:  id,
			Previous: prev,
		})
		return nil
	})
}

func (c *Cache) dropEstimatesLocked(id string, keep Date) {
	for other, v := range c.entries {
		if v == id && other != keep && c.provisional[other] {
			delete(c.entries, other)
			delete(c.provisional, other)
			c.record(auditRecord{Action: "estimate_dropped", Date: other.String(), Edition: id, Existing: keep.String()})
		}
	}
}

// transact runs fn against a fresh copy of the file under both locks and
// persists the result when fn succeeds.
func (c *Cache) transact(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("lock edition cache: %w", err)
	}
	defer c.lock.Unlock()

	if err := c.loadLocked(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	if err := c.writeLocked(); err != nil {
		return err
	}
	if info, err := os.Stat(c.path); err == nil {
		c.loaded = info
	}
	return nil
}

// writeLocked replaces the provisional list, then the cache file, each
// through a temp file and rename. Keys are in chronological order.
func (c *Cache) writeLocked() error {
	if err := c.writeProvisionalLocked(); err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString("{\n")
	sorted := c.sortedLocked()
	for i, e := range sorted {
		k, _ := json.Marshal(e.Date.String())
		v, _ := json.Marshal(e.EditionID)
		fmt.Fprintf(&buf, "  %s: %s", k, v)
		if i < len(sorted)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")

	return replaceFile(c.path, buf.Bytes())
}

func (c *Cache) writeProvisionalLocked() error {
	dates := make([]string, 0, len(c.provisional))
	for _, e := range c.sortedLocked() {
		if e.Provisional {
			dates = append(dates, e.Date.String())
		}
	}
	if len(dates) == 0 {
		if err := os.Remove(c.provisionalPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("write provisional editions: %w", err)
		}
		return nil
	}
	data, err := json.MarshalIndent(dates, "", "  ")
	if err != nil {
		return err
	}
	return replaceFile(c.provisionalPath(), append(data, '\n'))
}

// replaceFile writes data to a temp file next to path and renames it over path.
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write edition cache: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write edition cache: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("write edition cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write edition cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write edition cache: %w", err)
	}
	return nil
}

func (c *Cache) sortedLocked() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for d, id := range c.entries {
		out = append(out, Entry{Date: d, EditionID: id, Provisional: c.provisional[d]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Entries returns every binding in chronological order.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return c.sortedLocked()
}

// NearestBefore returns the latest confirmed entry strictly before d whose
// edition is numeric. Estimates and non-numeric editions cannot anchor an
// estimate.
func (c *Cache) NearestBefore(d Date) (Entry, bool) {
	entries := c.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Date.Before(d) && isAnchor(entries[i]) {
			return entries[i], true
		}
	}
	return Entry{}, false
}

// NearestAfter returns the earliest confirmed numeric entry strictly after d.
func (c *Cache) NearestAfter(d Date) (Entry, bool) {
	for _, e := range c.Entries() {
		if e.Date.After(d) && isAnchor(e) {
			return e, true
		}
	}
	return Entry{}, false
}

func isAnchor(e Entry) bool { return !e.Provisional && isNumeric(e.EditionID) }

func isNumeric(id string) bool {
	_, err := strconv.Atoi(id)
	return err == nil
}

// AnomalyKind classifies audit findings.
type AnomalyKind string

const (
	AnomalyDuplicate  AnomalyKind = "duplicate_edition"
	AnomalyGap        AnomalyKind = "sequence_gap"
	AnomalyNonNumeric AnomalyKind = "non_numeric_edition"
)

// Anomaly is one audit finding. Gaps are advisory since special editions
// legitimately break the one-per-business-day rule.
type Anomaly struct {
	Kind      AnomalyKind `json:"kind"`
	EditionID string      `json:"edition_id,omitempty"`
	Dates     []string    `json:"dates"`
	Expected  int         `json:"expected,omitempty"`
	Actual    int         `json:"actual,omitempty"`
}

func (a Anomaly) String() string {
	switch a.Kind {
	case AnomalyDuplicate:
		return fmt.Sprintf("edition %s bound to %d dates: %v", a.EditionID, len(a.Dates), a.Dates)
	case AnomalyNonNumeric:
		return fmt.Sprintf("non-numeric edition %q on %s", a.EditionID, a.Dates[0])
	default:
		return fmt.Sprintf("sequence gap %s -> %s: expected %d, found %d", a.Dates[0], a.Dates[1], a.Expected, a.Actual)
	}
}

// Audit reports duplicate editions across dates, then non-numeric
// editions and sequence gaps between consecutive confirmed numeric entries,
// in date order.
func (c *Cache) Audit() []Anomaly {
	entries := c.Entries()
	var out []Anomaly

	byEdition := make(map[string][]string)
	var order []string
	for _, e := range entries {
		if _, seen := byEdition[e.EditionID]; !seen {
			order = append(order, e.EditionID)
		}
		byEdition[e.EditionID] = append(byEdition[e.EditionID], e.Date.String())
	}
	for _, id := range order {
		if dates := byEdition[id]; len(dates) > 1 {
			out = append(out, Anomaly{Kind: AnomalyDuplicate, EditionID: id, Dates: dates})
		}
	}

	var prev *Entry
	for i := range entries {
		cur := entries[i]
		n, err := strconv.Atoi(cur.EditionID)
		if err != nil {
			out = append(out, Anomaly{Kind: AnomalyNonNumeric, EditionID: cur.EditionID, Dates: []string{cur.Date.String()}})
			continue
		}
		if cur.Provisional {
			continue
		}
		if prev != nil {
			p, _ := strconv.Atoi(prev.EditionID)
			expected := p + BusinessDaysBetween(prev.Date, cur.Date)
			if n != expected {
				out = append(out, Anomaly{
					Kind:     AnomalyGap,
					Dates:    []string{prev.Date.String(), cur.Date.String()},
					Expected: expected,
					Actual:   n,
				})
			}
		}
		prev = &entries[i]
	}
	return out
}

type auditRecord struct {
	Time     time.Time    `json:"ts"`
	Action   string       `json:"action"`
	Kind     ConflictKind `json:"kind,omitempty"`
	Date     string       `json:"date"`
	Edition  string       `json:"edition"`
	Existing string       `json:"existing,omitempty"`
	Previous string       `json:"previous,omitempty"`
}

func (c *Cache) recordLocked(action string, err *ConflictError) {
	existing := err.ExistingDate
	if err.Kind == DateRebound {
		existing = err.ExistingEdition
	}
	logger.Warn("edition cache: "+action, map[string]interface{}{
		"kind": string(err.Kind), "date": err.Date, "edition": err.EditionID, "existing": existing,
	})
	c.record(auditRecord{Action: action, Kind: err.Kind, Date: err.Date, Edition: err.EditionID, Existing: existing})
}

func (c *Cache) record(r auditRecord) {
	if c.auditLog == "" {
		return
	}
	r.Time = time.Now().UTC()
	line, _ := json.Marshal(r)
	f, err := os.OpenFile(c.auditLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Error("edition cache: audit log unavailable", map[string]interface{}{"path": c.auditLog, "error": err.Error()})
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		logger.Error("edition cache: audit log write failed", map[string]interface{}{
			"path": c.auditLog, "action": r.Action, "date": r.Date, "error": err.Error(),
		})
	}
}
