package gap

import logging "github.com/ipfs/go-log"

// log is the structured logger for the routing core, keyed the same way
// the teacher keys its table logger: one subsystem name per package.
var log = logging.Logger("gap")
