// Package script runs Lua scripts against an attached board.
//
// Scripts see a global "board" table whose functions map onto the board
// operations:
//
//	board.read(mem, offset, n)       -- n bytes as a string
//	board.write(mem, offset, data)
//	board.read32(mem, offset)        -- little-endian word
//	board.write32(mem, offset, value)
//	board.size(mem)
//	board.novram(addr)
//	board.set_novram(addr, value)
//	board.tcp_read(port)
//	board.tcp_write(port, value)
//	board.target(cmd [, maxlen])     -- response as a string
//	board.info()                     -- table of identity fields
//	board.sleep(ms)
//
// Memory types are named as host.MemType prints them: "global", "shared",
// "local", "io" and "global-direct". A failing board operation raises a Lua
// error; Run reports it wrapped around the driver error so callers can
// test it with errors.Is.
//
// An Engine is bound to one goroutine at a time.
package script
