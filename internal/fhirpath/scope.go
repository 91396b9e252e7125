package fhirpath

// binding is what a variable resolves to inside a lambda.
type binding struct {
	Expression  string
	SourceTable string
	Fragment    *Fragment
}

// frame is one lambda level. rowID addresses the root row the lambda is
// evaluated for; an empty rowID inherits the enclosing frame's.
type frame struct {
	vars  map[string]binding
	rowID string
}

type scope struct {
	frames []frame
}

// push adds a frame and returns the func that restores the previous state.
func (s *scope) push(f frame) func() {
	if f.rowID == "" && len(s.frames) > 0 {
		f.rowID = s.frames[len(s.frames)-1].rowID
	}
	s.frames = append(s.frames, f)
	n := len(s.frames)
	return func() { s.frames = s.frames[:n-1] }
}

func (s *scope) depth() int { return len(s.frames) }

func (s *scope) lookup(name string) (binding, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if b, ok := s.frames[i].vars[name]; ok {
			return b, true
		}
	}
	return binding{}, false
}

func (s *scope) rowID() string {
	if len(s.frames) == 0 {
		return "ctx.id"
	}
	return s.frames[len(s.frames)-1].rowID
}

func bind(vars map[string]*Fragment, source string) map[string]binding {
	out := make(map[string]binding, len(vars))
	for name, f := range vars {
		out[name] = binding{Expression: f.Expression, SourceTable: source, Fragment: f}
	}
	return out
}
