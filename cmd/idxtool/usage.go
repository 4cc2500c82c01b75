package main

const usageText = `usage: idxtool <command> [arguments]

commands:
  create  <index>               create a new index file
  insert  <index> <key> <value> insert one key/value pair
  search  <index> <key>         look up one key
  load    <index> <csv>         bulk insert from a delimited text file
  print   <index>               dump the tree in order
  extract <index> <csv>         write the in-order dump to a text file
`
