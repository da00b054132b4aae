package catalog

// Op identifies one of the supported edit operators. Edits are recorded as
// plain tuples so a log of them can be serialized, shipped to the storage
// layer and replayed deterministically against another copy of the data.
type Op string

const (
	OpSet       Op = "set"
	OpSetKey    Op = "setkey"
	OpInsert    Op = "insert"
	OpDelete    Op = "delete"
	OpMove      Op = "move"
	OpIncrement Op = "increment"
	OpOverwrite Op = "overwrite"

	// OpIfVersion is a commit-time guard, not a data change; Apply treats
	// it as a no-op and the transaction layer interprets it.
	OpIfVersion Op = "if_version"
)

// Edit is one recorded mutation: an operator plus its arguments.
type Edit struct {
	Op   Op
	Args []any
}

// Tuple returns the wire form [op, ...args].
func (e Edit) Tuple() []any {
	out := make([]any, 0, len(e.Args)+1)
	out = append(out, string(e.Op))
	return append(out, e.Args...)
}

// EditFromTuple parses the wire form produced by Tuple.
func EditFromTuple(tuple []any) (Edit, error) {
	if len(tuple) == 0 {
		return Edit{}, Error.New("empty edit tuple")
	}
	op, ok := tuple[0].(string)
	if !ok {
		return Edit{}, Error.New("malformed edit operator: %v", tuple[0])
	}
	return Edit{Op: Op(op), Args: tuple[1:]}, nil
}

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", Error.New("missing edit argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", Error.New("edit argument %d is not a string: %v", i, args[i])
	}
	return s, nil
}

func argInt(args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, Error.New("missing edit argument %d", i)
	}
	switch v := args[i].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	}
	return 0, Error.New("edit argument %d is not an integer: %v", i, args[i])
}

// Apply executes the edit against the catalog. Replaying the same sequence
// of edits against equal catalogs yields equal results.
func (e Edit) Apply(c *Catalog) error {
	switch e.Op {
	case OpSet:
		path, err := argString(e.Args, 0)
		if err != nil {
			return err
		}
		if len(e.Args) >= 3 {
			// Plural form: replace all occurrences with the given list.
			values, ok := e.Args[1].([]any)
			if !ok {
				return Error.New("plural set expects a list, got %T", e.Args[1])
			}
			return c.SetAll(path, values)
		}
		if len(e.Args) < 2 {
			return Error.New("set expects a path and a value")
		}
		return c.Set(path, e.Args[1])

	case OpSetKey:
		path, err := argString(e.Args, 0)
		if err != nil {
			return err
		}
		newKey, err := argString(e.Args, 1)
		if err != nil {
			return err
		}
		return c.SetKey(path, newKey)

	case OpInsert:
		path, err := argString(e.Args, 0)
		if err != nil {
			return err
		}
		pos := -1
		rest := e.Args[1:]
		if len(rest) == 3 {
			p, err := argInt(rest, 0)
			if err != nil {
				return err
			}
			pos = p
			rest = rest[1:]
		}
		if len(rest) != 2 {
			return Error.New("insert expects (path, [pos,] key, value)")
		}
		key, ok := rest[0].(string)
		if !ok {
			return Error.New("insert key is not a string: %v", rest[0])
		}
		return c.Insert(path, pos, key, rest[1])

	case OpDelete:
		path, err := argString(e.Args, 0)
		if err != nil {
			return err
		}
		_, err = c.Delete(path)
		return err

	case OpMove:
		path, err := argString(e.Args, 0)
		if err != nil {
			return err
		}
		delta, err := argInt(e.Args, 1)
		if err != nil {
			return err
		}
		return c.Move(path, delta)

	case OpIncrement:
		path, err := argString(e.Args, 0)
		if err != nil {
			return err
		}
		if len(e.Args) < 2 {
			return Error.New("increment expects a path and a delta")
		}
		delta, ok := toFloat(e.Args[1])
		if !ok {
			return Error.New("increment delta is not numeric: %v", e.Args[1])
		}
		_, err = c.Increment(path, delta)
		return err

	case OpOverwrite:
		if len(e.Args) < 1 {
			return Error.New("overwrite expects a catalog state")
		}
		loaded, err := Load(e.Args[0])
		if err != nil {
			return err
		}
		c.Overwrite(loaded.entries)
		return nil

	case OpIfVersion:
		return nil
	}
	return Error.New("unknown edit operator %q", e.Op)
}

// Replay applies a sequence of edits in order, stopping at the first
// failure.
func Replay(c *Catalog, edits []Edit) error {
	for _, e := range edits {
		if err := e.Apply(c); err != nil {
			return err
		}
	}
	return nil
}
