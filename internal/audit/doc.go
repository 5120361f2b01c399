// Package audit writes an append-only JSONL record of every management
// action: who acted, on which interface, with which parameters, and the
// outcome and result code.
//
// The file is rotated by size through lumberjack.
package audit
