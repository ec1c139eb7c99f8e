package reconcile

// matcher resolves confirmation frames against pending optimistic
// messages using the configured strategy.
type matcher struct {
	strategy Strategy
	window   int64 // ms
}

func newMatcher(strategy Strategy, windowMillis int64) *matcher {
	return &matcher{strategy: strategy, window: windowMillis}
}

// Match scans the pending set and returns the best candidate for the
// confirmation, if any. Candidates are iterated in arrival (Seq) order
// so ties resolve to the earliest optimistic send.
func (m *matcher) Match(conf Confirmation, pending []*OptimisticMessage) MatchResult {
	switch m.strategy {
	case StrategyContent:
		return m.byContent(conf, pending)
	case StrategyTimestamp:
		return m.byTimestamp(conf, pending)
	default:
		res := m.byContent(conf, pending)
		if res.Found {
			return res
		}
		res = m.byTimestamp(conf, pending)
		if res.Found {
			res.Strategy = StrategyHybrid
		}
		return res
	}
}

func (m *matcher) byContent(conf Confirmation, pending []*OptimisticMessage) MatchResult {
	hash := HashContent(conf.Content)
	for _, msg := range pending {
		if msg.ContentHash == hash {
			return MatchResult{Found: true, Message: msg, Confidence: 0.95, Strategy: StrategyContent}
		}
	}
	return MatchResult{}
}

func (m *matcher) byTimestamp(conf Confirmation, pending []*OptimisticMessage) MatchResult {
	var best *OptimisticMessage
	var bestDelta int64
	for _, msg := range pending {
		delta := conf.Timestamp - msg.OptimisticTimestamp
		if delta < 0 {
			delta = -delta
		}
		if delta > m.window {
			continue
		}
		if best == nil || delta < bestDelta {
			best = msg
			bestDelta = delta
		}
	}
	if best == nil {
		return MatchResult{}
	}
	return MatchResult{Found: true, Message: best, Confidence: 0.7, Strategy: StrategyTimestamp}
}
