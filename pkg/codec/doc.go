// Package codec converts Go value graphs to and from a plain wire tree that
// can cross a worker boundary without losing type information.
//
// Registered struct types are written as objects carrying a "$tag"
// attribute and are rebuilt as pointers to the same types on the other
// side. Objects reached through more than one path carry an "$id" mark on
// their first occurrence and are written as {"$ref": id} afterwards, so
// shared and cyclic structures keep their identity.
package codec
