/*
Package kvstore implements a partitioned, immutable key-value store on
top of a pluggable file system. A write session buffers key-value pairs
and transparently splits them into size-bounded partitions, each
persisted as one immutable file; a read session discovers the
partitions by listing the store directory and serves point lookups and
full scans. Keys and values are opaque byte sequences; partitions are
size-partitioned, not key-range-partitioned, so keys are sorted within
each partition only.

Data Structure Documentation

Store

A store is a directory containing one file per partition, named by an
incrementing ordinal:

    <store uri>/part-00000
    <store uri>/part-00001
    ...

Partition

A partition file contains the value payload followed by a sorted key
index, a key membership filter and a fixed-size footer.

    Partition layout:
    +---------+-----------+--------------------+--------+
    | payload | key index | membership filter  | footer |
    +---------+-----------+--------------------+--------+

    Footer:
    +------------------------+-------------------------+--------------------+------------------+
    | index offset (8 bytes) |  filter offset (8 bytes) | compression (1 byte) | magic (8 bytes) |
    +------------------------+-------------------------+--------------------+------------------+

Payload

The payload holds the value bytes concatenated in sorted-key order and
may be snappy-compressed as a whole. Index offsets always refer to the
uncompressed payload.

Key index

The index holds the entry count followed by one record per entry,
sorted ascending by key in byte-lexicographic order. Value offsets are
delta-encoded.

    +------------------+-----------------------+-------+----------------------------+-----------------------+
    | count (varint)   | key len 1 (varint)    | key 1 | value offset delta (varint) | value len 1 (varint) |  ...
    +------------------+-----------------------+-------+----------------------------+-----------------------+
*/
package kvstore
