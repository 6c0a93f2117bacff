package memory

import "github.com/pkg/errors"

// OutOfAddressSpaceError is returned from Allocate when no free range of the simulated GPU address space
// can hold the request
var OutOfAddressSpaceError error = errors.New("out of GPU address space")
