package fed_test

// Blank import triggers fed/broker's init(), which registers the inproc and
// test core factories. This allows package fed's internal test files to
// create federates without directly importing fed/broker (which would
// create an import cycle).
import _ "github.com/tesp-cosim/cosim/fed/broker"
