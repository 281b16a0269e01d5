// Package ays drives boards with an on-board application support processor
// that speak the AYS command protocol over USB.
//
// Every request is a 32-byte Header followed by an optional payload on the
// single command channel. Memory reads and writes are split into chunks
// that fit the negotiated transfer size; the board confirms each written
// chunk with a 4-byte acknowledgement. Larger transfers are negotiated
// with a length handshake during Start.
//
// Host-IO calls carry requests for services running on the board, such
// as ESMART NOVRAM access, as a write, trigger and read sequence that
// holds the command channel for its whole duration.
package ays
