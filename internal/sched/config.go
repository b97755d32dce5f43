package sched

// Config holds the kernel's build-time constants.
type Config struct {
	TickMS         int  `yaml:"tick_ms"`          // 1 (by default)
	MaxTasks       int  `yaml:"max_tasks"`        // 8
	MaxPriorities  int  `yaml:"max_priorities"`   // 8, so priorities are 0..7
	StackPoolWords int  `yaml:"stack_pool_words"` // 4096
	MinStackWords  int  `yaml:"min_stack_words"`  // 64
	TimeSlicing    bool `yaml:"time_slicing"`     // true
	VirtualTime    bool `yaml:"virtual_time"`     // false
}

// DefaultConfig returns the values used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		TickMS:         1,
		MaxTasks:       8,
		MaxPriorities:  8,
		StackPoolWords: 4096,
		MinStackWords:  64,
		TimeSlicing:    true,
	}
}

// Normalize applies sanity clamps to a config that was overlaid on the
// defaults.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.TickMS <= 0 {
		c.TickMS = def.TickMS
	}
	if c.MaxTasks <= 0 {
		c.MaxTasks = def.MaxTasks
	}
	if c.MaxPriorities <= 0 {
		c.MaxPriorities = def.MaxPriorities
	}
	if c.MinStackWords <= 0 {
		c.MinStackWords = def.MinStackWords
	}
	if c.StackPoolWords <= 0 {
		c.StackPoolWords = def.StackPoolWords
	}
	if c.StackPoolWords < c.MinStackWords {
		c.StackPoolWords = c.MinStackWords
	}
	return c
}

// clampPriority keeps p within the legal region.
func (c Config) clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > c.MaxPriorities-1 {
		return c.MaxPriorities - 1
	}
	return p
}
