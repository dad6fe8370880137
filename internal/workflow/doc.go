// Package workflow loads graph templates from a trusted directory and binds
// user parameters into them.
//
// Nodes opt into receiving a parameter by carrying a well-known title in
// their _meta block (user_prompt, user_seed, ...). The binder never looks at
// node ids or edges, so template authors can rearrange a graph freely.
package workflow
