package png

import "hash/crc32"

// crcTable is the standard PNG CRC-32 polynomial table, computed once at
// process start and never mutated.
var crcTable = crc32.MakeTable(crc32.IEEE)

// chunkCRC computes the CRC over chunk type + payload, as written into
// the 4 bytes following each chunk's data.
func chunkCRC(typ, data []byte) uint32 {
	crc := crc32.Update(0, crcTable, typ)
	return crc32.Update(crc, crcTable, data)
}
