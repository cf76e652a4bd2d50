// Package upload schedules deferred device uploads by priority under frame
// time and bandwidth budgets.
//
// Tasks are ordered by descending priority; equal priorities execute in
// submission order. Budgets defer work to a later frame, they never drop it.
// An optional background worker drains the queue asynchronously.
package upload
