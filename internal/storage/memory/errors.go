package memory

import "fmt"

type errDuplicate string

func (e errDuplicate) Error() string { return fmt.Sprintf("duplicate key %q", string(e)) }
