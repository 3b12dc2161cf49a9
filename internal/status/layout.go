// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package status

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ffutop/modbus-poller/internal/master"
)

// Binary layout of the mmap store, all fields big-endian uint32:
//
//	Header : magic "MBPS", packet count
//	Record : requests, successful, failed, exceptions, retries,
//	         connection (0/1), last exception code
const (
	magic      = "MBPS"
	headerSize = 8
	recordSize = 7 * 4
)

var errBadMagic = errors.New("status: not a packet status table")

func tableSize(packets int) int {
	return headerSize + packets*recordSize
}

// encodeTable writes snapshots into data, which must be tableSize(len(snapshots)) long.
func encodeTable(data []byte, snapshots []master.Snapshot) {
	copy(data[0:4], magic)
	binary.BigEndian.PutUint32(data[4:], uint32(len(snapshots)))

	for i, s := range snapshots {
		rec := data[headerSize+i*recordSize:]
		binary.BigEndian.PutUint32(rec[0:], s.Requests)
		binary.BigEndian.PutUint32(rec[4:], s.SuccessfulRequests)
		binary.BigEndian.PutUint32(rec[8:], s.FailedRequests)
		binary.BigEndian.PutUint32(rec[12:], s.ExceptionErrors)
		binary.BigEndian.PutUint32(rec[16:], s.Retries)
		var connection uint32
		if s.Connection {
			connection = 1
		}
		binary.BigEndian.PutUint32(rec[20:], connection)
		binary.BigEndian.PutUint32(rec[24:], uint32(s.LastException))
	}
}

// DecodeTable reads a table written by the mmap store. Only counters,
// connection and last exception are stored; identity fields stay empty.
func DecodeTable(data []byte) ([]master.Snapshot, error) {
	if len(data) < headerSize || string(data[0:4]) != magic {
		return nil, errBadMagic
	}
	n := int(binary.BigEndian.Uint32(data[4:]))
	if len(data) < tableSize(n) {
		return nil, fmt.Errorf("status: table of %d packets truncated to %d bytes", n, len(data))
	}

	out := make([]master.Snapshot, n)
	for i := range out {
		rec := data[headerSize+i*recordSize:]
		out[i].Requests = binary.BigEndian.Uint32(rec[0:])
		out[i].SuccessfulRequests = binary.BigEndian.Uint32(rec[4:])
		out[i].FailedRequests = binary.BigEndian.Uint32(rec[8:])
		out[i].ExceptionErrors = binary.BigEndian.Uint32(rec[12:])
		out[i].Retries = binary.BigEndian.Uint32(rec[16:])
		out[i].Connection = binary.BigEndian.Uint32(rec[20:]) != 0
		out[i].LastException = byte(binary.BigEndian.Uint32(rec[24:]))
	}
	return out, nil
}
