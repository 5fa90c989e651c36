// Package blob implements the binary wire encoding exchanged between worker
// table proxies and parameter-server shards.
//
// # Overview
//
// Every request and reply is a Blob: an owned byte slice produced by the
// sender and handed to the receiver. A Blob starts with an operation tag and
// a count, followed by fixed-width payload arrays:
//
//	Get request        [Get][n][key_0 .. key_n-1]
//	Row Get reply      [Get][n][keys][n rows of C float32]
//	Column Get reply   [Get][n][col_offset][col_width][n rows of col_width float32]
//	Add request        [Add][n][keys][n rows of C float32]
//	Add reply          [Add][n][keys]
//	DotProd request    [DotProd][n_src][K][src ids][(K+1)*n_src target ids]
//	DotProd reply      [DotProd][n_pairs][score_0 .. score_n_pairs-1]
//	Adjust request     [Adjust][n_src][K][src ids][target ids][scale per pair]
//	Adjust reply       [Adjust][n_pairs]
//
// All integers are 32-bit and all reals are float32, written little-endian.
// There is no byte-order negotiation: every process in a deployment is
// assumed to share the same encoding.
//
// # Pairs
//
// DotProd and Adjust address (source, target) pairs. Source i owns K+1
// consecutive targets: slot 0 is the positive target and slots 1..K are
// negatives. The pair id of source i, slot j is i*(K+1)+j, which is also the
// index of its score or scale.
//
// # Cursors
//
// Writer and Reader track an offset into a fixed buffer. A Writer never grows
// its buffer and reports ErrOverrun instead; a Reader reports ErrMalformed
// when the payload is shorter than its header claims, and Finish rejects
// trailing bytes.
package blob
