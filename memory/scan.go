package memory

// scanRegion searches the part of region that lies in [start, end) and
// returns absolute match addresses. Regions that cannot be read, such as
// ones released between the query and the read, yield no matches.
func (r *Reader) scanRegion(region Region, start, end uintptr, pattern *Pattern) []uintptr {
	if region.Base > start {
		start = region.Base
	}
	if region.End() < end {
		end = region.End()
	}
	if end <= start {
		return nil
	}
	buf := make([]byte, end-start)
	r.mu.Lock()
	err := r.process.ReadMemory(start, buf)
	r.mu.Unlock()
	if err != nil {
		r.log.Debug("skipping unreadable region", "base", region.Base, "size", region.Size, "err", err)
		return nil
	}
	var found []uintptr
	for _, off := range pattern.FindAll(buf) {
		found = append(found, start+uintptr(off))
	}
	return found
}

func (r *Reader) scanRange(start, end uintptr, pattern *Pattern) ([]uintptr, error) {
	var (
		found   []uintptr
		scanned int
	)
	err := r.walk(start, end, func(region Region) error {
		if !region.Committed() || !region.Protect.Scannable() {
			return nil
		}
		scanned++
		found = append(found, r.scanRegion(region, start, end, pattern)...)
		return nil
	})
	r.log.Debug("pattern scan", "pattern", pattern.String(), "start", start, "end", end,
		"regions", scanned, "matches", len(found))
	return found, err
}

// PatternScan searches committed r, rx, rw and rwx memory for pattern.
// With a module name the scan covers only that module's image; without
// one it covers everything below the scan ceiling.
//
// No match is ErrPatternNotFound. More than one match with returnMultiple
// unset is ErrAmbiguousPattern and the error carries the count. Otherwise
// the result holds every match in ascending order, or just the single
// match.
func (r *Reader) PatternScan(pattern string, module string, returnMultiple bool) ([]uintptr, error) {
	compiled, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	return r.Scan(compiled, module, returnMultiple)
}

// Scan is PatternScan for a compiled pattern.
func (r *Reader) Scan(pattern *Pattern, module string, returnMultiple bool) ([]uintptr, error) {
	start, end := uintptr(0), r.config.ScanCeiling
	if module != "" {
		m, ok, err := r.findModule(module)
		if err != nil || !ok {
			return nil, &Error{Op: "pattern scan", Kind: ErrModuleNotLoaded, Pattern: pattern.String(), Module: module, Err: err}
		}
		start, end = m.Base, m.End()
	}

	found, err := r.scanRange(start, end, pattern)
	if err != nil {
		return nil, err
	}
	switch {
	case len(found) == 0:
		return nil, &Error{Op: "pattern scan", Kind: ErrPatternNotFound, Pattern: pattern.String(), Module: module}
	case len(found) > 1 && !returnMultiple:
		return nil, &Error{Op: "pattern scan", Kind: ErrAmbiguousPattern, Pattern: pattern.String(), Module: module, Count: len(found)}
	case returnMultiple:
		return found, nil
	}
	return found[:1], nil
}
